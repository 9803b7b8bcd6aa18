package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Jakarta")
	if err != nil {
		panic(err)
	}
}

// The portal reports and filters transactions in WIB. Computing "today"
// from the host clock would skip or double-fetch a day whenever the
// process runs outside UTC+7, so every date derivation goes through here.
func Now() time.Time {
	return time.Now().In(Location)
}
