// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package logger provides context bound logrus entries. HTTP requests get a
// fresh request ID, long-lived sessions (WebSocket, MQTT) get an identity.
package logger

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type contextLoggerValues struct {
	RequestID string `json:"requestID"`
	Identity  string `json:"identity,omitempty"`
}

type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	identityLoggerKey  string = "identity"
)

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// ParseLevel is logrus.ParseLevel with info as fallback for unknown names
func ParseLevel(name string) logrus.Level {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		Default().Warnf("unknown log level '%s', using info", name)
		return logrus.InfoLevel
	}
	return level
}

// AddRequestID adds a logger with a new request ID to every request that
// does not carry a logger yet.
func AddRequestID(router *mux.Router) {
	router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := ContextWithLogger(r.Context())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	})
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a new context with a logger if the given context has no logger yet. If
// the context already has a logger the given context will be returned.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	rlog := logrus.WithField(requestIDLoggerKey, uuid.New().String())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithLoggerIdentity returns a new context with a logger tagged with identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(identityLoggerKey, identity)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// FromContext returns the logger from the context. If the context does not have a logger
// the default logger is returned.
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, _ := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	return rlog
}

// RequestIDFromContext returns the request id for the given context.
func RequestIDFromContext(ctx context.Context) string {
	return loggerValues(ctx).RequestID
}

// SerializeLoggerContext returns the request id and identity of the context
// logger as json, so that a consumer on the other side of a queue can continue
// logging under the same request id.
func SerializeLoggerContext(ctx context.Context) []byte {
	values := loggerValues(ctx)
	if values.RequestID == "" {
		return []byte("{}")
	}
	res, err := json.Marshal(values)
	if err != nil {
		return []byte("{}")
	}
	return res
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var values contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return values
	}
	values.RequestID, _ = rlog.Data[requestIDLoggerKey].(string)
	values.Identity, _ = rlog.Data[identityLoggerKey].(string)
	return values
}
