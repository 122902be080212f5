// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the gateway's REST api

Instead of marshalling HTTP, the client talks directly to the mux router. This makes
it the tool of choice for unit tests. With NewWithURL the same calls go over the
network to a running gateway.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the gateway,
// through the mux router
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to a running gateway
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Response is the raw outcome of a request
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do sends a request with a raw body, which may be nil, and returns the raw
// response without looking at the status.
func (c Client) Do(method, path string, headers map[string]string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range headers {
		r.Header.Add(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return &Response{Status: res.StatusCode, Header: res.Header, Body: rec.Body.Bytes()}, nil
	}

	res, err := c.httpClient.Do(r)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: res.StatusCode, Header: res.Header, Body: resBody}, nil
}

func (c Client) raw(method, path string, body interface{}, result interface{}, accepted ...int) (int, error) {
	var j []byte
	if body != nil {
		var ok bool
		if j, ok = body.([]byte); !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
	}

	res, err := c.Do(method, path, nil, j)
	if err != nil {
		return http.StatusInternalServerError, err
	}

	ok := false
	for _, status := range accepted {
		ok = ok || res.Status == status
	}
	if !ok {
		return res.Status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			res.Status, accepted, strings.TrimSpace(string(res.Body)))
	}

	if len(res.Body) > 0 && result != nil {
		if raw, isRaw := result.(*[]byte); isRaw {
			*raw = res.Body
			return res.Status, nil
		}
		return res.Status, json.Unmarshal(res.Body, result)
	}
	return res.Status, nil
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.raw(http.MethodGet, path, nil, result, http.StatusOK)
}

// RawPost posts body to path. Expects http.StatusOK or http.StatusCreated as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.raw(http.MethodPost, path, body, result, http.StatusOK, http.StatusCreated)
}

// RawPut puts body to path. Expects http.StatusOK, http.StatusCreated or http.StatusNoContent as valid responses,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.raw(http.MethodPut, path, body, result, http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as response, otherwise it will
// flag an error.
func (c Client) RawDelete(path string) (int, error) {
	return c.raw(http.MethodDelete, path, nil, nil, http.StatusNoContent)
}
