package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	assert.Equal(t, Name("driver_42"), Driver("42"))
	assert.Equal(t, Name("customer_c1"), Customer("c1"))
	assert.Equal(t, Name("store_s_9"), Store("s_9"))

	n, ok := For(RoleStore, "s1")
	assert.True(t, ok)
	assert.Equal(t, Store("s1"), n)
	_, ok = For(RoleDispatcher, "ops")
	assert.False(t, ok)
	_, ok = For(RoleDriver, "")
	assert.False(t, ok)

	role, id, ok := Parse("store_s_9")
	require.True(t, ok)
	assert.Equal(t, RoleStore, role)
	assert.Equal(t, "s_9", id)
	_, _, ok = Parse("admin_1")
	assert.False(t, ok)
}

func TestEventEnvelope(t *testing.T) {
	ev, err := NewEvent(EventAvailabilityUpdate, AvailabilityUpdate{IsAvailable: true})
	require.NoError(t, err)
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"availability_update","data":{"isAvailable":true}}`, string(b))

	var in Event
	require.NoError(t, json.Unmarshal([]byte(`{"event":"location_update","data":{"deliveryId":"d1","location":{"type":"Point","coordinates":[2.35,48.85]}}}`), &in))
	var lu LocationUpdate
	require.NoError(t, in.Decode(&lu))
	assert.Equal(t, "d1", lu.DeliveryID)
	assert.InDelta(t, 48.85, lu.Location.Lat(), 1e-9)

	assert.Error(t, Event{Name: EventStatusUpdate}.Decode(&StatusUpdate{}))
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent("delivery not found")
	var p ErrorPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, EventError, ev.Name)
	assert.Equal(t, "delivery not found", p.Message)
}
