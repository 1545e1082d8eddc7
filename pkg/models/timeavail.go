package models

// DaySlots is the fixed seven-day map of "HH:MM-HH:MM" windows. Modelling the
// week as named fields (rather than map[string][]string) makes missing-day
// bugs impossible: every day is always present in the JSON form.
type DaySlots struct {
	Monday    []string `json:"monday"`
	Tuesday   []string `json:"tuesday"`
	Wednesday []string `json:"wednesday"`
	Thursday  []string `json:"thursday"`
	Friday    []string `json:"friday"`
	Saturday  []string `json:"saturday"`
	Sunday    []string `json:"sunday"`
}

// Weekday indexes for DaySlots accessors, Monday == 0.
const (
	Monday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// DayNames lists the lowercase day keys in Monday-first order.
var DayNames = [7]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// Day returns the slot list for day index i (Monday == 0).
func (d *DaySlots) Day(i int) []string {
	switch i {
	case Monday:
		return d.Monday
	case Tuesday:
		return d.Tuesday
	case Wednesday:
		return d.Wednesday
	case Thursday:
		return d.Thursday
	case Friday:
		return d.Friday
	case Saturday:
		return d.Saturday
	case Sunday:
		return d.Sunday
	}
	return nil
}

// SetDay replaces the slot list for day index i (Monday == 0).
func (d *DaySlots) SetDay(i int, slots []string) {
	switch i {
	case Monday:
		d.Monday = slots
	case Tuesday:
		d.Tuesday = slots
	case Wednesday:
		d.Wednesday = slots
	case Thursday:
		d.Thursday = slots
	case Friday:
		d.Friday = slots
	case Saturday:
		d.Saturday = slots
	case Sunday:
		d.Sunday = slots
	}
}

// Add appends a slot to day index i, skipping duplicates.
func (d *DaySlots) Add(i int, slot string) {
	for _, s := range d.Day(i) {
		if s == slot {
			return
		}
	}
	d.SetDay(i, append(d.Day(i), slot))
}

// Empty reports whether no day carries any slot.
func (d *DaySlots) Empty() bool {
	for i := 0; i < 7; i++ {
		if len(d.Day(i)) > 0 {
			return false
		}
	}
	return true
}

// EnsureDays materializes empty (non-nil) slices for all seven days so the
// JSON form always carries every key with at least [].
func (d *DaySlots) EnsureDays() {
	for i := 0; i < 7; i++ {
		if d.Day(i) == nil {
			d.SetDay(i, []string{})
		}
	}
}

// TimeAvailability is the structured availability block: explicit windows the
// post states outright, estimated windows derived from fuzzy phrasing, and an
// optional verbatim note ("flexible", "tbc", ...).
type TimeAvailability struct {
	Explicit  DaySlots `json:"explicit"`
	Estimated DaySlots `json:"estimated"`
	Note      *string  `json:"note"`
}

// NewTimeAvailability returns an availability block with all fourteen day
// lists materialized.
func NewTimeAvailability() *TimeAvailability {
	ta := &TimeAvailability{}
	ta.Explicit.EnsureDays()
	ta.Estimated.EnsureDays()
	return ta
}

// Empty reports whether the block carries no slots and no note.
func (ta *TimeAvailability) Empty() bool {
	if ta == nil {
		return true
	}
	return ta.Explicit.Empty() && ta.Estimated.Empty() && ta.Note == nil
}
