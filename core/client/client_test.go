// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func TestCollectionPaths(t *testing.T) {
	client := NewWithRouter(nil)

	userID := "4f1638da-861e-4a81-8cc7-e6847b6fdf9b"
	deviceID := uuid.MustParse("c46da255-eb72-4cc6-8835-1b34a9917826")

	collection := client.Collection("user/device")
	if p := collection.CollectionPath(); p != "/users/all/devices" {
		t.Fatal("unexpected collection path:", p)
	}

	collection = collection.WithParent(userID)
	if p := collection.CollectionPath(); p != "/users/"+userID+"/devices" {
		t.Fatal("unexpected collection path:", p)
	}

	if p := collection.Item(deviceID).Path(); p != "/users/"+userID+"/devices/"+deviceID.String() {
		t.Fatal("unexpected item path:", p)
	}

	if p := client.Collection("battery").CollectionPath(); p != "/batteries" {
		t.Fatal("unexpected collection path:", p)
	}
}

func TestRawAgainstRouter(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Test", r.Header.Get("X-Test"))
		w.Write(body)
	}).Methods(http.MethodPost)
	router.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	client := NewWithRouter(router).WithHeader("X-Test", "yes")

	var result map[string]interface{}
	status, err := client.RawPost("/echo", map[string]interface{}{"a": 1}, &result)
	if err != nil || status != http.StatusOK {
		t.Fatal(status, err)
	}
	if result["a"] != 1.0 {
		t.Fatal("unexpected echo:", result)
	}

	res, err := client.Do(http.MethodPost, "/echo", nil, []byte("raw"))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Body) != "raw" || res.Header.Get("X-Test") != "yes" {
		t.Fatal("unexpected response:", string(res.Body), res.Header)
	}

	if status, err := client.RawDelete("/gone"); err != nil || status != http.StatusNoContent {
		t.Fatal(status, err)
	}

	if status, err := client.RawGet("/echo", nil); err == nil {
		t.Fatal("expected an error for a wrong method, got status", status)
	}
}

func TestRawAgainstURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer srv.Close()

	var result struct {
		Path string `json:"path"`
	}
	if _, err := NewWithURL(srv.URL+"/").RawGet("/status", &result); err != nil {
		t.Fatal(err)
	}
	if result.Path != "/status" {
		t.Fatal("unexpected path:", result.Path)
	}
}
