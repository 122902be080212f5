// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Command gateway serves the device state of an ESP32 unit over REST,
// WebSocket and MQTT.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/espgate/core/csql"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/iot/alerts"
	"github.com/relabs-tech/espgate/iot/api"
	"github.com/relabs-tech/espgate/iot/bridge"
	"github.com/relabs-tech/espgate/iot/commands"
	"github.com/relabs-tech/espgate/iot/control"
	"github.com/relabs-tech/espgate/iot/devices"
	"github.com/relabs-tech/espgate/iot/hub"
	"github.com/relabs-tech/espgate/iot/mqtt"
	"github.com/relabs-tech/espgate/iot/state"
)

const shutdownTimeout = 10 * time.Second

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()
	ctx := context.Background()

	dispatcher, closers, err := service.Dispatcher(ctx)
	if err != nil {
		panic(err)
	}

	monitor := alerts.MustNewMonitor(&alerts.Builder{
		Dispatcher:   dispatcher,
		GasThreshold: service.GasThreshold,
		Cooldown:     service.AlertCooldown,
	})
	store := state.NewStore(state.Default())
	controller := control.MustNewController(&control.Builder{
		Store:  store,
		Queue:  commands.NewQueue(),
		Alerts: monitor,
	})

	wsHub := hub.MustNewHub(&hub.Builder{
		Controller:   controller,
		OutboxSize:   service.WSOutboxSize,
		WriteTimeout: service.WSWriteTimeout,
	})
	store.AddObserver(wsHub)

	router := mux.NewRouter()
	logger.AddRequestID(router)
	api.MustNewAPI(&api.Builder{
		Router:     router,
		Controller: controller,
		WebSocket:  wsHub,
	})

	if service.Postgres != "" {
		db := csql.OpenWithSchema(ctx, service.PostgresDSN(), "espgate")
		defer db.Close()
		devices.MustNewAPI(&devices.Builder{DB: db, Router: router})
	}

	var broker *mqtt.Broker
	if service.MQTTAddress != "" {
		broker = mqtt.MustNewBroker(&mqtt.Builder{
			Controller:  controller,
			Address:     service.MQTTAddress,
			TopicPrefix: service.MQTTTopicPrefix,
			CertFile:    service.MQTTCertFile,
			KeyFile:     service.MQTTKeyFile,
		})
		broker.Run()
		store.AddObserver(broker)
	}

	var upstream *bridge.Bridge
	if service.UpstreamBroker != "" {
		upstream = bridge.MustNewBridge(&bridge.Builder{
			Controller:  controller,
			BrokerURL:   service.UpstreamBroker,
			ClientID:    service.UpstreamClientID,
			TopicPrefix: service.MQTTTopicPrefix,
		})
		if err := upstream.Connect(); err != nil {
			rlog.WithError(err).Errorln("upstream bridge is not connected")
		}
		store.AddObserver(upstream)
	}

	srv := &http.Server{
		Addr:    service.Address,
		Handler: handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()
	service.printBanner(os.Stdout)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	rlog.Infoln("received", sig, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		rlog.WithError(err).Errorln("http shutdown")
	}
	wsHub.Close()
	if broker != nil {
		if err := broker.Stop(shutdownCtx); err != nil {
			rlog.WithError(err).Errorln("mqtt broker shutdown")
		}
	}
	if upstream != nil {
		upstream.Disconnect(time.Second)
	}
	monitor.Wait()
	for _, c := range closers {
		if err := c(); err != nil {
			rlog.WithError(err).Errorln("shutdown")
		}
	}
	rlog.Infoln("bye")
}
