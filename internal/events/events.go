// Package events encodes and decodes the Kafka payloads of the smart-alerts
// pipeline. Every payload is a protobuf google.protobuf.Struct so producers
// in any language can build it without a generated schema.
package events

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// SchemaVersion is written into every encoded payload.
const SchemaVersion = 1

// ErrInvalidEvent is returned for payloads missing required fields.
var ErrInvalidEvent = errors.New("invalid event")

// MarketEvent is one market tick with the position snapshots that travelled with it.
type MarketEvent struct {
	Data      *alert.MarketData
	Positions []alert.Position
}

// ActionEvent is one user reaction from the action feed.
type ActionEvent struct {
	UserID     string
	AlertID    string
	ActionType alert.ActionType
	ActionAt   time.Time
}

func unmarshalStruct(payload []byte) (*structpb.Struct, error) {
	var pb structpb.Struct
	if err := proto.Unmarshal(payload, &pb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal struct protobuf: %w", err)
	}
	return &pb, nil
}

func marshalStruct(fields map[string]any) ([]byte, error) {
	fields["schema_version"] = SchemaVersion
	pb, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	payload, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal struct protobuf: %w", err)
	}
	return payload, nil
}

// DecodeMarketEvent parses a market event payload. Symbol and price are required.
func DecodeMarketEvent(payload []byte) (*MarketEvent, error) {
	pb, err := unmarshalStruct(payload)
	if err != nil {
		return nil, err
	}
	f := pb.GetFields()

	md := &alert.MarketData{
		Symbol:               str(f, "symbol"),
		Bid:                  num(f, "bid"),
		Ask:                  num(f, "ask"),
		Volume:               num(f, "volume"),
		PriceChangePercent:   num(f, "price_change_percent"),
		VolumeRatio:          num(f, "volume_ratio"),
		ImpliedVolatility:    optNum(f, "implied_volatility"),
		IVRank:               optNum(f, "iv_rank"),
		PutCallRatio:         optNum(f, "put_call_ratio"),
		UnusualActivityScore: optNum(f, "unusual_activity_score"),
		TotalDelta:           optNum(f, "total_delta"),
		TotalGamma:           optNum(f, "total_gamma"),
		Session:              alert.MarketSession(str(f, "session")),
	}
	if md.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol cannot be empty", ErrInvalidEvent)
	}
	price := optNum(f, "price")
	if price == nil {
		return nil, fmt.Errorf("%w: price missing for %s", ErrInvalidEvent, md.Symbol)
	}
	md.Price = *price
	if md.Timestamp, err = timeField(f, "timestamp"); err != nil {
		return nil, err
	}

	ev := &MarketEvent{Data: md}
	for i, v := range f["positions"].GetListValue().GetValues() {
		pf := v.GetStructValue().GetFields()
		if pf == nil {
			return nil, fmt.Errorf("%w: position %d is not an object", ErrInvalidEvent, i)
		}
		pos := alert.Position{
			UserID:               str(pf, "user_id"),
			Symbol:               str(pf, "symbol"),
			Quantity:             num(pf, "quantity"),
			UnrealizedPnLPercent: num(pf, "unrealized_pnl_percent"),
		}
		if pos.Symbol == "" {
			pos.Symbol = md.Symbol
		}
		exp, err := timeField(pf, "expiration")
		if err != nil {
			return nil, err
		}
		if !exp.IsZero() {
			pos.Expiration = &exp
		}
		ev.Positions = append(ev.Positions, pos)
	}
	return ev, nil
}

// EncodeMarketEvent builds a market event payload. Optional fields that are
// nil are left out.
func EncodeMarketEvent(ev *MarketEvent) ([]byte, error) {
	md := ev.Data
	fields := map[string]any{
		"symbol":               md.Symbol,
		"price":                md.Price,
		"bid":                  md.Bid,
		"ask":                  md.Ask,
		"volume":               md.Volume,
		"price_change_percent": md.PriceChangePercent,
		"volume_ratio":         md.VolumeRatio,
		"session":              string(md.Session),
	}
	if !md.Timestamp.IsZero() {
		fields["timestamp"] = md.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for name, v := range map[string]*float64{
		"implied_volatility":     md.ImpliedVolatility,
		"iv_rank":                md.IVRank,
		"put_call_ratio":         md.PutCallRatio,
		"unusual_activity_score": md.UnusualActivityScore,
		"total_delta":            md.TotalDelta,
		"total_gamma":            md.TotalGamma,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	if len(ev.Positions) > 0 {
		positions := make([]any, 0, len(ev.Positions))
		for _, p := range ev.Positions {
			pos := map[string]any{
				"user_id":                p.UserID,
				"symbol":                 p.Symbol,
				"quantity":               p.Quantity,
				"unrealized_pnl_percent": p.UnrealizedPnLPercent,
			}
			if p.Expiration != nil {
				pos["expiration"] = p.Expiration.UTC().Format(time.RFC3339)
			}
			positions = append(positions, pos)
		}
		fields["positions"] = positions
	}
	return marshalStruct(fields)
}

// DecodeActionEvent parses a user action payload.
func DecodeActionEvent(payload []byte) (*ActionEvent, error) {
	pb, err := unmarshalStruct(payload)
	if err != nil {
		return nil, err
	}
	f := pb.GetFields()

	ev := &ActionEvent{
		UserID:     str(f, "user_id"),
		AlertID:    str(f, "alert_id"),
		ActionType: alert.ActionType(str(f, "action_type")),
	}
	if ev.UserID == "" || ev.AlertID == "" {
		return nil, fmt.Errorf("%w: user_id and alert_id are required", ErrInvalidEvent)
	}
	if !ev.ActionType.Known() {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidEvent, ev.ActionType)
	}
	if ev.ActionAt, err = timeField(f, "action_at"); err != nil {
		return nil, err
	}
	return ev, nil
}

// EncodeActionEvent builds a user action payload.
func EncodeActionEvent(ev *ActionEvent) ([]byte, error) {
	fields := map[string]any{
		"user_id":     ev.UserID,
		"alert_id":    ev.AlertID,
		"action_type": string(ev.ActionType),
	}
	if !ev.ActionAt.IsZero() {
		fields["action_at"] = ev.ActionAt.UTC().Format(time.RFC3339Nano)
	}
	return marshalStruct(fields)
}

// EncodeConsolidatedAlert builds the payload published for a delivery.
func EncodeConsolidatedAlert(ca *alert.ConsolidatedAlert) ([]byte, error) {
	alertIDs := make([]any, len(ca.AlertIDs))
	for i, id := range ca.AlertIDs {
		alertIDs[i] = id
	}
	symbols := make([]any, 0)
	for _, s := range ca.Symbols() {
		symbols = append(symbols, s)
	}
	return marshalStruct(map[string]any{
		"id":         ca.ID,
		"user_id":    ca.UserID,
		"alert_ids":  alertIDs,
		"symbols":    symbols,
		"reason":     ca.Reason,
		"group":      ca.Group,
		"title":      ca.Title,
		"summary":    ca.Summary,
		"priority":   string(ca.Priority),
		"count":      ca.Count,
		"status":     string(ca.Status),
		"created_at": ca.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// DecodeConsolidatedAlert parses a consolidated alert payload. The grouped
// alerts themselves are not carried; only their ids.
func DecodeConsolidatedAlert(payload []byte) (*alert.ConsolidatedAlert, error) {
	pb, err := unmarshalStruct(payload)
	if err != nil {
		return nil, err
	}
	f := pb.GetFields()

	ca := &alert.ConsolidatedAlert{
		ID:       str(f, "id"),
		UserID:   str(f, "user_id"),
		Reason:   str(f, "reason"),
		Group:    str(f, "group"),
		Title:    str(f, "title"),
		Summary:  str(f, "summary"),
		Priority: alert.Priority(str(f, "priority")),
		Count:    int(num(f, "count")),
		Status:   alert.AlertStatus(str(f, "status")),
	}
	if ca.ID == "" || ca.UserID == "" {
		return nil, fmt.Errorf("%w: id and user_id are required", ErrInvalidEvent)
	}
	for _, v := range f["alert_ids"].GetListValue().GetValues() {
		ca.AlertIDs = append(ca.AlertIDs, v.GetStringValue())
	}
	if ca.CreatedAt, err = timeField(f, "created_at"); err != nil {
		return nil, err
	}
	return ca, nil
}

func str(f map[string]*structpb.Value, name string) string {
	return f[name].GetStringValue()
}

func num(f map[string]*structpb.Value, name string) float64 {
	if v := optNum(f, name); v != nil {
		return *v
	}
	return 0
}

// optNum returns nil for absent, null, non-numeric and non-finite values.
func optNum(f map[string]*structpb.Value, name string) *float64 {
	v, ok := f[name]
	if !ok {
		return nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return nil
	}
	return alert.Float(n.NumberValue)
}

// timeField accepts RFC 3339 strings and unix milliseconds. Absent fields
// return the zero time.
func timeField(f map[string]*structpb.Value, name string) (time.Time, error) {
	v, ok := f[name]
	if !ok {
		return time.Time{}, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		if k.StringValue == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, k.StringValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, name, err)
		}
		return t, nil
	case *structpb.Value_NumberValue:
		return time.UnixMilli(int64(k.NumberValue)).UTC(), nil
	case *structpb.Value_NullValue:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s must be a string or number", ErrInvalidEvent, name)
	}
}
