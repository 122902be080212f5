// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package devices_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/espgate/core/client"
	"github.com/relabs-tech/espgate/core/csql"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/iot/devices"
)

type DevicesTestSuite struct {
	suite.Suite
	postgresContainer testcontainers.Container
	db                *csql.DB
	client            client.Client
}

func TestDevicesSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker for postgres")
	}
	suite.Run(t, new(DevicesTestSuite))
}

func (s *DevicesTestSuite) SetupSuite() {
	ctx := context.Background()

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "testuser",
				"POSTGRES_PASSWORD": "testpass",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	host, err := pgC.Host(ctx)
	s.Require().NoError(err)
	port, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db = csql.OpenWithSchema(ctx, fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable",
		host, port.Port()), "espgate_test")

	router := mux.NewRouter()
	logger.AddRequestID(router)
	devices.MustNewAPI(&devices.Builder{DB: s.db, Router: router})
	s.client = client.NewWithRouter(router)
}

func (s *DevicesTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.db != nil {
		s.db.ClearSchema(ctx)
		s.db.Close()
	}
	if s.postgresContainer != nil {
		s.Require().NoError(s.postgresContainer.Terminate(ctx))
	}
}

func (s *DevicesTestSuite) TestLifecycle() {
	col := s.client.Collection("user/device").WithParent("user-lifecycle")

	var created devices.Device
	status, err := col.Create(map[string]interface{}{
		"name":     "kitchen",
		"location": map[string]float64{"latitude": 52.5, "longitude": 13.4},
	}, &created)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)
	s.NotEqual(uuid.Nil, created.DeviceID)
	s.Equal("user-lifecycle", created.UserID)
	s.Equal("esp32/iot/status", created.TopicStatus)
	s.Equal("esp32/iot/commands", created.TopicCommands)
	s.Require().NotNil(created.Location)
	s.Equal(52.5, created.Location.Latitude)

	item := col.Item(created.DeviceID)
	var read devices.Device
	_, err = item.Read(&read)
	s.Require().NoError(err)
	s.Equal(created.Name, read.Name)
	s.True(created.CreatedAt.Equal(read.CreatedAt))
	s.Equal(*created.Location, *read.Location)

	var updated devices.Device
	status, err = item.Update(map[string]interface{}{
		"name":           "kitchen east",
		"broker_url":     "tcp://broker.emqx.io:1883",
		"topic_status":   "home/kitchen/status",
		"topic_commands": "home/kitchen/commands",
	}, &updated)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Equal(created.DeviceID, updated.DeviceID)
	s.Equal("kitchen east", updated.Name)
	s.Equal("home/kitchen/status", updated.TopicStatus)
	s.Nil(updated.Location)
	s.True(created.CreatedAt.Equal(updated.CreatedAt))

	status, err = item.Delete()
	s.Require().NoError(err)
	s.Equal(http.StatusNoContent, status)

	status, err = item.Read(&read)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)

	status, err = item.Delete()
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *DevicesTestSuite) TestListNewestFirst() {
	col := s.client.Collection("user/device").WithParent("user-list")

	var ids []uuid.UUID
	for _, name := range []string{"first", "second", "third"} {
		var d devices.Device
		_, err := col.Create(map[string]string{"name": name}, &d)
		s.Require().NoError(err)
		ids = append(ids, d.DeviceID)
		time.Sleep(2 * time.Millisecond)
	}

	var list []devices.Device
	_, err := col.List(&list)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal(ids[2], list[0].DeviceID)
	s.Equal(ids[1], list[1].DeviceID)
	s.Equal(ids[0], list[2].DeviceID)

	// other users see nothing of it
	var other []devices.Device
	_, err = s.client.Collection("user/device").WithParent("user-nobody").List(&other)
	s.Require().NoError(err)
	s.Empty(other)

	status, err := s.client.Collection("user/device").WithParent("user-nobody").Item(ids[0]).Read(nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *DevicesTestSuite) TestValidation() {
	col := s.client.Collection("user/device").WithParent("user-validation")

	status, err := col.Create(map[string]string{"broker_url": "tcp://localhost:1883"}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)

	status, err = col.Create(map[string]interface{}{
		"name":     "x",
		"location": map[string]float64{"latitude": 100, "longitude": 0},
	}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)

	status, err = s.client.RawGet(col.CollectionPath()+"/not-a-uuid", nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)

	status, err = col.Item(uuid.New()).Update(map[string]string{"name": "ghost"}, nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}
