package events

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

func encodeRaw(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	pb, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	payload, err := proto.Marshal(pb)
	if err != nil {
		t.Fatalf("proto.Marshal() error = %v", err)
	}
	return payload
}

func TestMarketEvent_EncodeDecode(t *testing.T) {
	ts := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	exp := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	in := &MarketEvent{
		Data: &alert.MarketData{
			Symbol:            "AAPL",
			Price:             151.25,
			Bid:               151.2,
			Ask:               151.3,
			Volume:            1200000,
			VolumeRatio:       2.4,
			ImpliedVolatility: alert.Float(0.32),
			Session:           alert.SessionRegular,
			Timestamp:         ts,
		},
		Positions: []alert.Position{
			{UserID: "user-1", Symbol: "AAPL", Quantity: 10, UnrealizedPnLPercent: -12.5, Expiration: &exp},
		},
	}

	payload, err := EncodeMarketEvent(in)
	if err != nil {
		t.Fatalf("EncodeMarketEvent() error = %v", err)
	}
	got, err := DecodeMarketEvent(payload)
	if err != nil {
		t.Fatalf("DecodeMarketEvent() error = %v", err)
	}

	md := got.Data
	if md.Symbol != "AAPL" || md.Price != 151.25 || md.VolumeRatio != 2.4 || md.Session != alert.SessionRegular {
		t.Errorf("DecodeMarketEvent() data = %+v", md)
	}
	if !md.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", md.Timestamp, ts)
	}
	if md.ImpliedVolatility == nil || *md.ImpliedVolatility != 0.32 {
		t.Errorf("ImpliedVolatility = %v, want 0.32", md.ImpliedVolatility)
	}
	if md.IVRank != nil || md.TotalDelta != nil {
		t.Errorf("absent optional fields should stay nil, got iv_rank=%v total_delta=%v", md.IVRank, md.TotalDelta)
	}
	if len(got.Positions) != 1 {
		t.Fatalf("Positions len = %d, want 1", len(got.Positions))
	}
	p := got.Positions[0]
	if p.UserID != "user-1" || p.Quantity != 10 || p.UnrealizedPnLPercent != -12.5 {
		t.Errorf("Position = %+v", p)
	}
	if p.Expiration == nil || !p.Expiration.Equal(exp) {
		t.Errorf("Expiration = %v, want %v", p.Expiration, exp)
	}
}

func TestDecodeMarketEvent(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		wantErr bool
		check   func(t *testing.T, ev *MarketEvent)
	}{
		{
			name:    "missing symbol",
			fields:  map[string]any{"price": 10.0},
			wantErr: true,
		},
		{
			name:    "missing price",
			fields:  map[string]any{"symbol": "AAPL"},
			wantErr: true,
		},
		{
			name:    "non numeric price",
			fields:  map[string]any{"symbol": "AAPL", "price": "ten"},
			wantErr: true,
		},
		{
			name:    "bad timestamp",
			fields:  map[string]any{"symbol": "AAPL", "price": 10.0, "timestamp": "yesterday"},
			wantErr: true,
		},
		{
			name:   "unix millis timestamp",
			fields: map[string]any{"symbol": "AAPL", "price": 10.0, "timestamp": 1772465400000.0},
			check: func(t *testing.T, ev *MarketEvent) {
				if want := time.UnixMilli(1772465400000).UTC(); !ev.Data.Timestamp.Equal(want) {
					t.Errorf("Timestamp = %v, want %v", ev.Data.Timestamp, want)
				}
			},
		},
		{
			name:   "null optional field",
			fields: map[string]any{"symbol": "AAPL", "price": 10.0, "iv_rank": nil},
			check: func(t *testing.T, ev *MarketEvent) {
				if ev.Data.IVRank != nil {
					t.Errorf("IVRank = %v, want nil", *ev.Data.IVRank)
				}
			},
		},
		{
			name: "position symbol defaults to event symbol",
			fields: map[string]any{"symbol": "TSLA", "price": 200.0, "positions": []any{
				map[string]any{"user_id": "user-1", "quantity": 5.0},
			}},
			check: func(t *testing.T, ev *MarketEvent) {
				if len(ev.Positions) != 1 || ev.Positions[0].Symbol != "TSLA" {
					t.Errorf("Positions = %+v", ev.Positions)
				}
			},
		},
		{
			name: "position not an object",
			fields: map[string]any{"symbol": "TSLA", "price": 200.0, "positions": []any{
				"user-1",
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeMarketEvent(encodeRaw(t, tt.fields))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeMarketEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("DecodeMarketEvent() error = %v, want ErrInvalidEvent", err)
			}
			if tt.check != nil {
				tt.check(t, ev)
			}
		})
	}
}

func TestDecodeMarketEvent_Garbage(t *testing.T) {
	if _, err := DecodeMarketEvent([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("DecodeMarketEvent() should fail on garbage")
	}
}

func TestActionEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 31, 0, 0, time.UTC)
	payload, err := EncodeActionEvent(&ActionEvent{UserID: "user-1", AlertID: "a-1", ActionType: alert.ActionSnoozed, ActionAt: at})
	if err != nil {
		t.Fatalf("EncodeActionEvent() error = %v", err)
	}
	got, err := DecodeActionEvent(payload)
	if err != nil {
		t.Fatalf("DecodeActionEvent() error = %v", err)
	}
	if got.UserID != "user-1" || got.AlertID != "a-1" || got.ActionType != alert.ActionSnoozed || !got.ActionAt.Equal(at) {
		t.Errorf("DecodeActionEvent() = %+v", got)
	}

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{name: "missing user", fields: map[string]any{"alert_id": "a-1", "action_type": "snoozed"}},
		{name: "missing alert", fields: map[string]any{"user_id": "user-1", "action_type": "snoozed"}},
		{name: "unknown action", fields: map[string]any{"user_id": "user-1", "alert_id": "a-1", "action_type": "liked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeActionEvent(encodeRaw(t, tt.fields)); !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("DecodeActionEvent() error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestConsolidatedAlert_EncodeDecode(t *testing.T) {
	created := time.Date(2026, 3, 2, 15, 35, 0, 0, time.UTC)
	ca := &alert.ConsolidatedAlert{
		ID:       "ca-1",
		UserID:   "user-1",
		AlertIDs: []string{"a-1", "a-2"},
		Alerts: []*alert.TriggeredAlert{
			{ID: "a-1", Symbol: "AAPL"},
			{ID: "a-2", Symbol: "AAPL"},
		},
		Reason:    alert.ReasonSameSymbol,
		Title:     "2 alerts for AAPL",
		Summary:   "Price above 150, IV above 0.3",
		Priority:  alert.PriorityHigh,
		Count:     2,
		Status:    alert.AlertDelivered,
		CreatedAt: created,
	}

	payload, err := EncodeConsolidatedAlert(ca)
	if err != nil {
		t.Fatalf("EncodeConsolidatedAlert() error = %v", err)
	}

	raw := &structpb.Struct{}
	if err := proto.Unmarshal(payload, raw); err != nil {
		t.Fatalf("proto.Unmarshal() error = %v", err)
	}
	if v := raw.GetFields()["schema_version"].GetNumberValue(); v != SchemaVersion {
		t.Errorf("schema_version = %v, want %d", v, SchemaVersion)
	}
	if symbols := raw.GetFields()["symbols"].GetListValue().GetValues(); len(symbols) != 1 || symbols[0].GetStringValue() != "AAPL" {
		t.Errorf("symbols = %v, want [AAPL]", symbols)
	}

	got, err := DecodeConsolidatedAlert(payload)
	if err != nil {
		t.Fatalf("DecodeConsolidatedAlert() error = %v", err)
	}
	if got.ID != ca.ID || got.Count != 2 || got.Priority != alert.PriorityHigh || got.Reason != alert.ReasonSameSymbol {
		t.Errorf("DecodeConsolidatedAlert() = %+v", got)
	}
	if len(got.AlertIDs) != 2 || got.AlertIDs[1] != "a-2" {
		t.Errorf("AlertIDs = %v", got.AlertIDs)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}
