// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package alerts

import (
	"context"
	"errors"

	"github.com/relabs-tech/espgate/core/logger"
)

// LogDispatcher only logs alerts. It is used when no queue is configured.
type LogDispatcher struct{}

// Dispatch implements Dispatcher
func (LogDispatcher) Dispatch(ctx context.Context, alert Alert) error {
	logger.FromContext(ctx).WithField("data", alert.Data).Warnf("ALERT %s: %s", alert.Title, alert.Body)
	return nil
}

// MultiDispatcher hands every alert to all its dispatchers
type MultiDispatcher []Dispatcher

// Dispatch implements Dispatcher. All dispatchers are tried, the errors are joined.
func (m MultiDispatcher) Dispatch(ctx context.Context, alert Alert) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
