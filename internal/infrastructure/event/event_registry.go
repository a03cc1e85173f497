package event

import "github.com/loyalty/points/internal/domain/points"

// RegisterPointsEvents registers every points event so the outbox processor can
// rebuild them from stored payloads
func RegisterPointsEvents(serializer *EventSerializer) {
	serializer.Register(points.EventTypePointsAwarded, &points.PointsAwarded{})
	serializer.Register(points.EventTypeRiskBlocked, &points.EventRiskBlocked{})
	serializer.Register(points.EventTypeGrantTaskFinished, &points.GrantTaskFinished{})
	serializer.Register(points.EventTypeLedgerReversed, &points.LedgerRowReversed{})
}
