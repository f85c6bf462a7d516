package rpc

import (
	"context"
	"encoding/json"

	"github.com/buger/jsonparser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/srg/beaconmon/internal/beacon"
)

// Method names
const (
	MethodSetDebug                  = "setDebug"
	MethodIsBluetoothEnabled        = "isBluetoothEnabled"
	MethodOpenBluetoothSettings     = "openBluetoothSettings"
	MethodCheckLocationPermission   = "checkLocationPermission"
	MethodRequestLocationPermission = "requestLocationPermission"
	MethodIsLocationEnabled         = "isLocationEnabled"
	MethodOpenLocationSettings      = "openLocationSettings"
	MethodRegisterRegion            = "registerRegion"
	MethodRegisterAllRegions        = "registerAllRegions"
	MethodRemoveRegion              = "removeRegion"
	MethodRemoveAllRegions          = "removeAllRegions"
	MethodIsMonitoringStarted       = "isMonitoringStarted"
	MethodStartBackgroundMonitoring = "startBackgroundMonitoring"
	MethodStopBackgroundMonitoring  = "stopBackgroundMonitoring"
	MethodBackgroundInitialized     = "backgroundInitialized"
	MethodListen                    = "listen"
	MethodCancel                    = "cancel"
)

// promptMethods wait on the user; they run off the read loop so later
// requests are answered meanwhile
var promptMethods = map[string]bool{
	MethodRequestLocationPermission: true,
	MethodOpenBluetoothSettings:     true,
	MethodOpenLocationSettings:      true,
}

type method func(ctx context.Context, sess *Session, args json.RawMessage) (any, error)

func (s *Server) methodTable() map[string]method {
	return map[string]method{
		MethodSetDebug:                  s.setDebug,
		MethodIsBluetoothEnabled:        s.isBluetoothEnabled,
		MethodOpenBluetoothSettings:     s.openBluetoothSettings,
		MethodCheckLocationPermission:   s.checkLocationPermission,
		MethodRequestLocationPermission: s.requestLocationPermission,
		MethodIsLocationEnabled:         s.isLocationEnabled,
		MethodOpenLocationSettings:      s.openLocationSettings,
		MethodRegisterRegion:            s.registerRegions,
		MethodRegisterAllRegions:        s.registerRegions,
		MethodRemoveRegion:              s.removeRegions,
		MethodRemoveAllRegions:          s.removeAllRegions,
		MethodIsMonitoringStarted:       s.isMonitoringStarted,
		MethodStartBackgroundMonitoring: s.startBackgroundMonitoring,
		MethodStopBackgroundMonitoring:  s.stopBackgroundMonitoring,
		MethodBackgroundInitialized:     s.backgroundInitialized,
		MethodListen:                    s.listenMethod,
		MethodCancel:                    s.cancelMethod,
	}
}

func (s *Server) call(ctx context.Context, sess *Session, req Request) (any, error) {
	m, ok := s.methods[req.Method]
	if !ok {
		sess.logger.WithField("method", req.Method).Debug("Unknown method")
		return nil, beacon.Errorf(beacon.CodeNotImplemented, "method %q is not implemented", req.Method)
	}

	result, err := m(ctx, sess, req.Args)
	entry := sess.logger.WithFields(logrus.Fields{
		"id":     req.ID,
		"method": req.Method,
	})
	if err != nil {
		entry.WithError(err).Debug("Call failed")
	} else {
		entry.Debug("Call completed")
	}
	return result, err
}

func (s *Server) setDebug(_ context.Context, _ *Session, args json.RawMessage) (any, error) {
	v, err := scalarArg(args)
	if err != nil {
		return nil, err
	}
	on, err := cast.ToBoolE(v)
	if err != nil {
		return nil, beacon.Errorf(beacon.CodeInvalidArgument, "setDebug expects a boolean: %v", err)
	}
	return nil, s.monitor.SetDebug(on)
}

func (s *Server) isBluetoothEnabled(context.Context, *Session, json.RawMessage) (any, error) {
	return s.probe.BluetoothEnabled(), nil
}

func (s *Server) openBluetoothSettings(ctx context.Context, _ *Session, _ json.RawMessage) (any, error) {
	return s.probe.OpenBluetoothSettings(ctx)
}

func (s *Server) checkLocationPermission(context.Context, *Session, json.RawMessage) (any, error) {
	return s.probe.Permission(), nil
}

func (s *Server) requestLocationPermission(ctx context.Context, _ *Session, _ json.RawMessage) (any, error) {
	granted, err := s.probe.RequestPermission(ctx)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, beacon.Errorf(beacon.CodePermissionDenied, "the location permissions have not been granted")
	}
	return nil, nil
}

func (s *Server) isLocationEnabled(context.Context, *Session, json.RawMessage) (any, error) {
	return s.probe.LocationEnabled(), nil
}

func (s *Server) openLocationSettings(ctx context.Context, _ *Session, _ json.RawMessage) (any, error) {
	return nil, s.probe.OpenLocationSettings(ctx)
}

func (s *Server) registerRegions(_ context.Context, _ *Session, args json.RawMessage) (any, error) {
	regions, err := parseRegions(args)
	if err != nil {
		return nil, err
	}
	return nil, s.monitor.RegisterRegions(regions...)
}

func (s *Server) removeRegions(_ context.Context, _ *Session, args json.RawMessage) (any, error) {
	regions, err := parseRegions(args)
	if err != nil {
		return nil, err
	}
	return nil, s.monitor.RemoveRegions(regions...)
}

// removeAllRegions clears everything without arguments, otherwise removes the given regions
func (s *Server) removeAllRegions(ctx context.Context, sess *Session, args json.RawMessage) (any, error) {
	if isEmptyArg(args) {
		s.monitor.RemoveAllRegions()
		return nil, nil
	}
	return s.removeRegions(ctx, sess, args)
}

func (s *Server) isMonitoringStarted(context.Context, *Session, json.RawMessage) (any, error) {
	return s.monitor.IsMonitoringStarted(), nil
}

func (s *Server) startBackgroundMonitoring(_ context.Context, _ *Session, args json.RawMessage) (any, error) {
	backgroundID, err := int64Arg(args, "backgroundCallbackId")
	if err != nil {
		return nil, err
	}
	monitoringID, err := int64Arg(args, "monitoringCallbackId")
	if err != nil {
		return nil, err
	}
	return nil, s.monitor.StartBackground(backgroundID, monitoringID)
}

func (s *Server) stopBackgroundMonitoring(context.Context, *Session, json.RawMessage) (any, error) {
	return nil, s.monitor.StopBackground()
}

func (s *Server) backgroundInitialized(_ context.Context, sess *Session, _ json.RawMessage) (any, error) {
	if s.background == nil {
		return nil, beacon.Errorf(beacon.CodeNotImplemented, "background delivery is not configured")
	}
	s.background.Bind(sess)
	return nil, nil
}

// listenMethod reports a gate failure on the stream itself
func (s *Server) listenMethod(_ context.Context, sess *Session, args json.RawMessage) (any, error) {
	name, err := streamArg(args)
	if err != nil {
		return nil, err
	}
	if err := s.listen(sess, name); err != nil {
		if beacon.CodeOf(err) == beacon.CodeInvalidArgument {
			return nil, err
		}
		sess.streamError(name, err)
	}
	return nil, nil
}

func (s *Server) cancelMethod(_ context.Context, sess *Session, args json.RawMessage) (any, error) {
	name, err := streamArg(args)
	if err != nil {
		return nil, err
	}
	return nil, s.cancel(sess, name)
}

func isEmptyArg(args json.RawMessage) bool {
	if len(args) == 0 {
		return true
	}
	_, dataType, _, err := jsonparser.Get(args)
	return err == nil && dataType == jsonparser.Null
}

// unwrapArgs decodes arguments sent as a JSON-encoded string
func unwrapArgs(args json.RawMessage) ([]byte, jsonparser.ValueType, error) {
	value, dataType, _, err := jsonparser.Get(args)
	if err != nil {
		return nil, jsonparser.NotExist, beacon.Errorf(beacon.CodeInvalidArgument, "malformed arguments: %v", err)
	}
	if dataType != jsonparser.String {
		return value, dataType, nil
	}

	inner, err := jsonparser.ParseString(value)
	if err != nil {
		return nil, jsonparser.NotExist, beacon.Errorf(beacon.CodeInvalidArgument, "malformed arguments: %v", err)
	}
	value, dataType, _, err = jsonparser.Get([]byte(inner))
	if err != nil {
		return nil, jsonparser.NotExist, beacon.Errorf(beacon.CodeInvalidArgument, "malformed arguments: %v", err)
	}
	return value, dataType, nil
}

// parseRegions accepts a single region object or an array of regions
func parseRegions(args json.RawMessage) ([]beacon.Region, error) {
	value, dataType, err := unwrapArgs(args)
	if err != nil {
		return nil, err
	}

	switch dataType {
	case jsonparser.Object:
		var r beacon.Region
		if err := json.Unmarshal(value, &r); err != nil {
			return nil, beacon.Errorf(beacon.CodeInvalidArgument, "malformed region: %v", err)
		}
		return []beacon.Region{r}, nil
	case jsonparser.Array:
		var rs []beacon.Region
		if err := json.Unmarshal(value, &rs); err != nil {
			return nil, beacon.Errorf(beacon.CodeInvalidArgument, "malformed regions: %v", err)
		}
		return rs, nil
	}
	return nil, beacon.Errorf(beacon.CodeInvalidArgument, "expected a region object or array, got %s", dataType)
}

func scalarArg(args json.RawMessage) (any, error) {
	if len(args) == 0 {
		return nil, beacon.Errorf(beacon.CodeInvalidArgument, "missing argument")
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, beacon.Errorf(beacon.CodeInvalidArgument, "malformed argument: %v", err)
	}
	return v, nil
}

func int64Arg(args json.RawMessage, key string) (int64, error) {
	value, _, err := unwrapArgs(args)
	if err != nil {
		return 0, err
	}
	raw, _, _, err := jsonparser.Get(value, key)
	if err != nil {
		return 0, beacon.Errorf(beacon.CodeInvalidArgument, "missing %s argument", key)
	}

	// numbers and numeric strings are both accepted
	n, err := cast.ToInt64E(string(raw))
	if err != nil {
		return 0, beacon.Errorf(beacon.CodeInvalidArgument, "%s: %v", key, err)
	}
	return n, nil
}

func streamArg(args json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "", beacon.Errorf(beacon.CodeInvalidArgument, "missing stream argument")
	}
	name, err := jsonparser.GetString(args, "stream")
	if err != nil {
		return "", beacon.Errorf(beacon.CodeInvalidArgument, "missing stream argument")
	}
	return name, nil
}
