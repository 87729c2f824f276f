package dispatcher

import "time"

// Clock is the payload type carried by the manager selector's
// registrations: a monotonic timestamp, per spec §3 ("manager:
// Selector<Clock>... data-payload is a monotonic timestamp").
type Clock = time.Time
