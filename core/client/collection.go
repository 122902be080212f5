// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package client

import (
	"strings"

	"github.com/google/uuid"
)

// Collection represents a collection of particular resource, for example
// "user/device" for /users/{user_id}/devices
type Collection struct {
	client    *Client
	resources []string
	selectors map[string]string
}

// Collection returns a new collection client
func (c Client) Collection(resource string) Collection {
	return Collection{
		client:    &c,
		resources: strings.Split(resource, "/"),
	}
}

// WithSelector returns a new collection client with a selector added
func (r Collection) WithSelector(key string, value string) Collection {
	// we want a true copy to avoid side effects
	selectors := map[string]string{strings.TrimSuffix(key, "_id"): value}
	for k, v := range r.selectors {
		if _, ok := selectors[k]; !ok {
			selectors[k] = v
		}
	}
	return Collection{
		client:    r.client,
		resources: r.resources,
		selectors: selectors,
	}
}

// WithParent returns a new collection client with a parent selector added
func (r Collection) WithParent(parentID string) Collection {
	if len(r.resources) < 2 {
		panic("no parent resource to select")
	}
	return r.WithSelector(r.resources[len(r.resources)-2], parentID)
}

// CollectionPath returns the path of the collection
func (r Collection) CollectionPath() string {
	var itemPath, collectionPath string
	for _, resource := range r.resources {
		collectionPath = itemPath + "/" + plural(resource)
		param := "all"
		if selector, ok := r.selectors[resource]; ok {
			param = selector
		}
		itemPath = collectionPath + "/" + param
	}
	return collectionPath
}

// Create creates a new item with POST. Expects http.StatusCreated.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// List lists all items of the collection with GET
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Item represents a single item in a collection
type Item struct {
	col Collection
	id  uuid.UUID
}

// Item gets an item from a collection
func (r Collection) Item(id uuid.UUID) Item {
	return Item{col: r, id: id}
}

// Path returns the path of this item
func (r Item) Path() string {
	return r.col.CollectionPath() + "/" + r.id.String()
}

// Read reads an item with GET
func (r Item) Read(result interface{}) (int, error) {
	return r.col.client.RawGet(r.Path(), result)
}

// Update replaces an item with PUT
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPut(r.Path(), body, result)
}

// Delete deletes an item. Expects http.StatusNoContent.
func (r Item) Delete() (int, error) {
	return r.col.client.RawDelete(r.Path())
}

// plural returns the plural form of the passed singular string, as used in
// the REST routes
func plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	return singular + "s"
}
