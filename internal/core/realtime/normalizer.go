package realtime

import (
	"fmt"
	"strings"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// eventAliases maps the spellings feed adapters use onto the closed set.
var eventAliases = map[string]domain.EventType{
	"INSERT":  domain.EventInsert,
	"CREATE":  domain.EventInsert,
	"UPDATE":  domain.EventUpdate,
	"REPLACE": domain.EventUpdate,
	"DELETE":  domain.EventDelete,
}

// ParseEventType maps a raw event name onto the closed set.
func ParseEventType(s string) (domain.EventType, error) {
	t, ok := eventAliases[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown event type %q", domain.ErrMalformedChange, s)
	}
	return t, nil
}

// Normalize validates a raw change and converts it to the canonical shape.
// Inserts and updates must carry a new row with an id; deletes must carry an
// id on the old or the new row.
func Normalize(raw ports.RawChange) (domain.ChangeEvent, error) {
	if raw.Table == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: missing table", domain.ErrMalformedChange)
	}
	t, err := ParseEventType(raw.Type)
	if err != nil {
		return domain.ChangeEvent{}, err
	}

	ev := domain.ChangeEvent{
		Table:     raw.Table,
		EventType: t,
		NewRow:    toRow(raw.New),
		OldRow:    toRow(raw.Old),
	}
	if _, ok := ev.Key(); !ok {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %s on %s without row id", domain.ErrMalformedChange, t, raw.Table)
	}
	return ev, nil
}

func toRow(m map[string]any) domain.Row {
	if len(m) == 0 {
		return nil
	}
	return domain.Row(m).Clone()
}
