package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/commercekit/authcore/device"
	"github.com/commercekit/authcore/seclog"
)

// Devices lists the account's known devices, most recently seen first.
func (e *Engine) Devices(ctx context.Context, accountID string) ([]*device.Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	records, err := e.devices.List(ctx, accountID)
	if err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	return records, nil
}

// TrustDevice marks a known device as explicitly trusted, letting it
// skip the second factor when that policy is enabled.
func (e *Engine) TrustDevice(ctx context.Context, accountID, deviceID string) (*device.Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	rec, err := e.devices.SetTrusted(ctx, accountID, deviceID, true)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}

	e.recordEvent(ctx, &seclog.Event{
		AccountID: accountID,
		Kind:      seclog.KindDeviceTrusted,
		DeviceID:  deviceID,
	})
	e.emitAudit(ctx, auditEventDeviceTrusted, true, accountID, deviceID, "", nil, nil)

	return rec, nil
}

// RemoveDevice forgets a device and revokes every session it holds, so
// a lost phone stops refreshing the moment it is removed.
func (e *Engine) RemoveDevice(ctx context.Context, accountID, deviceID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if _, err := e.devices.Remove(ctx, accountID, deviceID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return wrapUnavailable(ErrAuthUnavailable, err)
	}

	revoked, err := e.sessions.DeleteAllForDevice(ctx, accountID, deviceID)
	if err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}
	if revoked > 0 {
		e.metricInc(MetricSessionRevoked)
		e.recordEvent(ctx, &seclog.Event{
			AccountID: accountID,
			Kind:      seclog.KindSessionRevoked,
			DeviceID:  deviceID,
			Detail:    "device removed",
		})
		e.emitAudit(ctx, auditEventLogoutDevice, true, accountID, deviceID, "", nil, func() map[string]string {
			return map[string]string{"sessions": strconv.Itoa(revoked)}
		})
	}

	e.recordEvent(ctx, &seclog.Event{
		AccountID: accountID,
		Kind:      seclog.KindDeviceRemoved,
		Severity:  seclog.SeverityWarning,
		DeviceID:  deviceID,
	})
	e.emitAudit(ctx, auditEventDeviceRemoved, true, accountID, deviceID, "", nil, nil)

	return nil
}
