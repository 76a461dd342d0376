package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func TestBuildChallanSnapshotsDispatch(t *testing.T) {
	d := loadedDispatch()
	generatedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	ch, err := BuildChallan(d, "DC-000001", generatedAt)
	require.NoError(t, err)
	require.Equal(t, "DC-000001", ch.ChallanNumber)
	require.Equal(t, d.DispatchNumber, ch.DispatchNumber)
	require.Equal(t, "MH-12-AB-1234", ch.VehicleNumber)
	require.Equal(t, d.Customer.Name, ch.CustomerName)
	require.Equal(t, d.Items, ch.Items)
	require.Equal(t, d.TotalValue(), ch.TotalValue)

	// Snapshot is by value: mutating the dispatch afterwards must not
	// show through.
	d.Items[0].Quantity = 999
	require.Equal(t, 10.0, ch.Items[0].Quantity)
}

func TestBuildChallanRegenerationIsStable(t *testing.T) {
	d := loadedDispatch()

	first, err := BuildChallan(d, "DC-000001", time.Unix(100, 0))
	require.NoError(t, err)
	second, err := BuildChallan(d, "DC-000001", time.Unix(200, 0))
	require.NoError(t, err)

	second.GeneratedAt = first.GeneratedAt
	require.Equal(t, first, second)
}

func TestBuildChallanRejectsUnloadedDispatch(t *testing.T) {
	_, err := BuildChallan(pendingDispatch(), "DC-000001", time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = BuildChallan(startedDispatch(), "DC-000001", time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestBuildReceiptSnapshotsDelivery(t *testing.T) {
	d := transitDispatch()
	deliveredAt := time.Date(2026, 3, 15, 16, 45, 0, 0, time.UTC)
	d.Status = StatusDelivered
	d.DeliveredAt = &deliveredAt

	payload := TransitionPayload{
		ReceiverName:        "A. Sharma",
		ReceiverPhone:       "9876500002",
		ReceiverDesignation: "Site Engineer",
		SignedReceiptImage:  "blob://signed/1.jpg",
		DeliveryNotes:       "unloaded at gate 2",
	}
	rc, err := BuildReceipt(d, payload, "DR-000001", time.Now())
	require.NoError(t, err)
	require.Equal(t, "DR-000001", rc.ReceiptNumber)
	require.Equal(t, d.ID, rc.DispatchID)
	require.Equal(t, deliveredAt, rc.DeliveredAt)
	require.Equal(t, "A. Sharma", rc.ReceiverName)
	require.Equal(t, ConditionGood, rc.DeliveryCondition, "condition defaults to good")
	require.Equal(t, d.Items, rc.Items)
}

func TestBuildReceiptRejectsUndelivered(t *testing.T) {
	_, err := BuildReceipt(transitDispatch(), TransitionPayload{
		ReceiverName: "A. Sharma", SignedReceiptImage: "blob://sig",
	}, "DR-000001", time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}
