package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var apiRoutes = mux.NewRouter()

func init() {
	apiRoutes.Path("/routes").Methods(http.MethodGet).HandlerFunc(routesListHandler)
	apiRoutes.Path("/routes").Methods(http.MethodPost).
		Headers("Content-Type", "application/json").HandlerFunc(routesCreateHandler)
	apiRoutes.Path("/routes/{serverAddress}").Methods(http.MethodDelete).HandlerFunc(routesDeleteHandler)
	apiRoutes.Path("/defaultRoute").Methods(http.MethodPost).
		Headers("Content-Type", "application/json").HandlerFunc(routesSetDefaultHandler)
}

func StartApiServer(apiBinding string) {
	logrus.WithField("binding", apiBinding).Info("Serving API requests")
	go func() {
		logrus.WithError(
			http.ListenAndServe(apiBinding, apiRoutes)).Error("API server failed")
	}()
}

func routesListHandler(writer http.ResponseWriter, _ *http.Request) {
	mappings := Routes.GetMappings()
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(mappings); err != nil {
		logrus.WithError(err).Error("Failed to encode route mappings")
		writer.WriteHeader(http.StatusInternalServerError)
	}
}

func routesCreateHandler(writer http.ResponseWriter, request *http.Request) {
	var definition = struct {
		ServerAddress string `json:"serverAddress"`
		Backend       string `json:"backend"`
	}{}

	//goland:noinspection GoUnhandledErrorResult
	defer request.Body.Close()

	if err := json.NewDecoder(request.Body).Decode(&definition); err != nil {
		logrus.WithError(err).Error("Unable to parse request")
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	Routes.CreateMapping(definition.ServerAddress, definition.Backend)
	RoutesConfigLoader.SaveRoutes()
	writer.WriteHeader(http.StatusCreated)
}

func routesDeleteHandler(writer http.ResponseWriter, request *http.Request) {
	serverAddress := mux.Vars(request)["serverAddress"]

	if Routes.DeleteMapping(serverAddress) {
		RoutesConfigLoader.SaveRoutes()
		writer.WriteHeader(http.StatusOK)
	} else {
		writer.WriteHeader(http.StatusNotFound)
	}
}

func routesSetDefaultHandler(writer http.ResponseWriter, request *http.Request) {
	var body = struct {
		Backend string `json:"backend"`
	}{}

	//goland:noinspection GoUnhandledErrorResult
	defer request.Body.Close()

	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		logrus.WithError(err).Error("Unable to parse request")
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	Routes.SetDefaultRoute(body.Backend)
	RoutesConfigLoader.SaveRoutes()
	writer.WriteHeader(http.StatusOK)
}
