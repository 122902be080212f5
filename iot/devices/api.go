// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package devices

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/espgate/core/csql"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/schema"
)

// Builder is a builder helper for the device API
type Builder struct {
	// DB is mandatory
	DB *csql.DB
	// Router is mandatory
	Router *mux.Router
}

// API serves the device registry over REST
type API struct {
	registry *Registry
}

// MustNewAPI creates the device table if needed and adds the routes
//
//	GET    /users/{user_id}/devices
//	POST   /users/{user_id}/devices
//	GET    /users/{user_id}/devices/{device_id}
//	PUT    /users/{user_id}/devices/{device_id}
//	DELETE /users/{user_id}/devices/{device_id}
func MustNewAPI(b *Builder) *API {
	if b.DB == nil {
		panic("DB is missing")
	}
	if b.Router == nil {
		panic("Router is missing")
	}
	registry, err := NewRegistry(context.Background(), b.DB)
	if err != nil {
		panic(err)
	}
	a := &API{registry: registry}

	collection := "/users/{user_id}/devices"
	item := collection + "/{device_id}"

	logger.Default().Debugln("  handle route:", collection, "GET")
	b.Router.HandleFunc(collection, a.list).Methods(http.MethodGet)
	logger.Default().Debugln("  handle route:", collection, "POST")
	b.Router.HandleFunc(collection, a.create).Methods(http.MethodPost)
	logger.Default().Debugln("  handle route:", item, "GET")
	b.Router.HandleFunc(item, a.read).Methods(http.MethodGet)
	logger.Default().Debugln("  handle route:", item, "PUT")
	b.Router.HandleFunc(item, a.update).Methods(http.MethodPut)
	logger.Default().Debugln("  handle route:", item, "DELETE")
	b.Router.HandleFunc(item, a.delete).Methods(http.MethodDelete)
	return a
}

// Registry returns the registry behind the API
func (a *API) Registry() *Registry {
	return a.registry
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
	devices, err := a.registry.List(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, devices)
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
	device, ok := a.decode(w, r)
	if !ok {
		return
	}
	created, err := a.registry.Create(r.Context(), mux.Vars(r)["user_id"], device)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, created)
}

func (a *API) read(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
	deviceID, ok := deviceIDFromRequest(w, r)
	if !ok {
		return
	}
	device, err := a.registry.Get(r.Context(), mux.Vars(r)["user_id"], deviceID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, device)
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
	deviceID, ok := deviceIDFromRequest(w, r)
	if !ok {
		return
	}
	device, ok := a.decode(w, r)
	if !ok {
		return
	}
	updated, err := a.registry.Update(r.Context(), mux.Vars(r)["user_id"], deviceID, device)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
	deviceID, ok := deviceIDFromRequest(w, r)
	if !ok {
		return
	}
	if err := a.registry.Delete(r.Context(), mux.Vars(r)["user_id"], deviceID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request) (*Device, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	device, err := a.registry.Decode(body)
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return device, true
}

func deviceIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	deviceID, err := uuid.Parse(mux.Vars(r)["device_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid device_id")
		return uuid.Nil, false
	}
	return deviceID, true
}

// fail maps registry errors to status codes
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schema.ErrInvalid):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		logger.FromContext(r.Context()).WithError(err).Errorln("device registry failure")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
