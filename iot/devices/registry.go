// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package devices

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/espgate/core/csql"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/schema"
	"github.com/relabs-tech/espgate/iot"
)

//go:embed schemas
var schemaFS embed.FS

// SchemaID identifies the JSON schema device documents are validated against
const SchemaID = "https://espgate.local/schemas/device.json"

// ErrNotFound is returned when a device does not exist for the given user
var ErrNotFound = errors.New("device not found")

// Location is the geographic position of a device
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Device is the configuration of an ESP32 unit as stored for a user
type Device struct {
	DeviceID      uuid.UUID `json:"device_id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	BrokerURL     string    `json:"broker_url"`
	TopicStatus   string    `json:"topic_status"`
	TopicCommands string    `json:"topic_commands"`
	Location      *Location `json:"location,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Registry stores device configurations in postgres
type Registry struct {
	db        *csql.DB
	validator *schema.Validator
	table     string
}

// NewRegistry creates the device table if needed and returns a registry on it
func NewRegistry(ctx context.Context, db *csql.DB) (*Registry, error) {
	validator, err := newValidator()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		db:        db,
		validator: validator,
		table:     db.Table("_device_"),
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+r.table+` (
device_id uuid NOT NULL PRIMARY KEY,
user_id varchar NOT NULL,
name varchar NOT NULL,
broker_url varchar NOT NULL DEFAULT '',
topic_status varchar NOT NULL,
topic_commands varchar NOT NULL,
location jsonb,
created_at timestamp NOT NULL
);
CREATE INDEX IF NOT EXISTS "_device_user_created_" ON `+r.table+` (user_id, created_at DESC);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create device table: %w", err)
	}
	logger.FromContext(ctx).Infoln("device registry ready in", r.table)
	return r, nil
}

func newValidator() (*schema.Validator, error) {
	sub, err := fs.Sub(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	return schema.NewValidatorFromFS(sub)
}

// Decode validates a device document and returns the device it describes.
// Missing topics get the gateway's default topics.
func (r *Registry) Decode(body []byte) (*Device, error) {
	return decodeDevice(r.validator, body)
}

func decodeDevice(validator *schema.Validator, body []byte) (*Device, error) {
	if err := validator.ValidateBytes(body, SchemaID); err != nil {
		return nil, err
	}
	var device Device
	if err := json.Unmarshal(body, &device); err != nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrInvalid, err)
	}
	defaults := iot.NewTopics(iot.DefaultTopicPrefix)
	if device.TopicStatus == "" {
		device.TopicStatus = defaults.Status
	}
	if device.TopicCommands == "" {
		device.TopicCommands = defaults.Commands
	}
	return &device, nil
}

const columns = "device_id, user_id, name, broker_url, topic_status, topic_commands, location, created_at"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row scanner) (*Device, error) {
	var (
		d        Device
		location []byte
	)
	err := row.Scan(&d.DeviceID, &d.UserID, &d.Name, &d.BrokerURL, &d.TopicStatus, &d.TopicCommands, &location, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(location) > 0 {
		d.Location = &Location{}
		if err = json.Unmarshal(location, d.Location); err != nil {
			return nil, fmt.Errorf("corrupt location of device %s: %w", d.DeviceID, err)
		}
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func locationValue(l *Location) (interface{}, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	// jsonb takes text, a []byte would be sent as bytea
	return string(b), nil
}

// List returns all devices of a user, newest first
func (r *Registry) List(ctx context.Context, userID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM `+r.table+` WHERE user_id=$1 ORDER BY created_at DESC, device_id;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// Get returns a single device of a user or ErrNotFound
func (r *Registry) Get(ctx context.Context, userID string, deviceID uuid.UUID) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM `+r.table+` WHERE user_id=$1 AND device_id=$2;`, userID, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// Create stores a new device for a user. DeviceID and CreatedAt are assigned here.
func (r *Registry) Create(ctx context.Context, userID string, d *Device) (*Device, error) {
	location, err := locationValue(d.Location)
	if err != nil {
		return nil, err
	}
	created := *d
	created.DeviceID = uuid.New()
	created.UserID = userID
	// postgres keeps microseconds
	created.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	_, err = r.db.ExecContext(ctx, `INSERT INTO `+r.table+` (`+columns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`,
		created.DeviceID, created.UserID, created.Name, created.BrokerURL,
		created.TopicStatus, created.TopicCommands, location, created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("cannot create device: %w", err)
	}
	logger.FromContext(ctx).Infof("created device %s for user %s", created.DeviceID, userID)
	return &created, nil
}

// Update replaces the configuration of an existing device. Identity and
// creation time are kept.
func (r *Registry) Update(ctx context.Context, userID string, deviceID uuid.UUID, d *Device) (*Device, error) {
	location, err := locationValue(d.Location)
	if err != nil {
		return nil, err
	}
	updated, err := scanDevice(r.db.QueryRowContext(ctx, `UPDATE `+r.table+`
SET name=$3, broker_url=$4, topic_status=$5, topic_commands=$6, location=$7
WHERE user_id=$1 AND device_id=$2
RETURNING `+columns+`;`,
		userID, deviceID, d.Name, d.BrokerURL, d.TopicStatus, d.TopicCommands, location))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return updated, err
}

// Delete removes a device or returns ErrNotFound
func (r *Registry) Delete(ctx context.Context, userID string, deviceID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE user_id=$1 AND device_id=$2;`, userID, deviceID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	logger.FromContext(ctx).Infof("deleted device %s of user %s", deviceID, userID)
	return nil
}
