package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Slot struct {
	Time      time.Time `json:"time"`
	Available bool      `json:"available"`
}

type DaySchedule struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []Slot    `json:"slots"`
}

// Index derives free/busy slots from working hours and occupying
// appointments. It never writes and needs no coordination.
type Index struct {
	repo        Repository
	dir         Directory
	granularity time.Duration
	loc         *time.Location
}

func NewIndex(repo Repository, dir Directory, granularity time.Duration, loc *time.Location) *Index {
	if granularity <= 0 {
		granularity = DefaultDuration * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Index{repo: repo, dir: dir, granularity: granularity, loc: loc}
}

// Granularity is the length of one slot.
func (ix *Index) Granularity() time.Duration { return ix.granularity }

// GetAvailableSlots lists the doctor's slots for the calendar day of date.
// A doctor with no hours that weekday gets an empty list.
func (ix *Index) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DaySchedule, error) {
	if _, err := ix.dir.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, ix.loc)
	out := &DaySchedule{DoctorID: doctorID, Date: day.Format(time.DateOnly), Slots: []Slot{}}

	start, end, ok, err := ix.shift(ctx, doctorID, day)
	if err != nil || !ok {
		return out, err
	}

	busy, err := ix.occupying(ctx, doctorID, start, end, uuid.Nil)
	if err != nil {
		return nil, err
	}

	for t := start; !t.Add(ix.granularity).After(end); t = t.Add(ix.granularity) {
		out.Slots = append(out.Slots, Slot{
			Time:      t.UTC(),
			Available: !overlapsAny(t, t.Add(ix.granularity), busy),
		})
	}
	return out, nil
}

// CheckSlot verifies that [dateTime, dateTime+duration) lies on the slot grid
// inside working hours and is not occupied by an appointment other than
// ignore. Occupied slots yield ErrSlotNoLongerAvailable.
func (ix *Index) CheckSlot(ctx context.Context, doctorID uuid.UUID, dateTime time.Time, duration int, ignore uuid.UUID) error {
	if _, err := ix.dir.GetDoctor(ctx, doctorID); err != nil {
		return err
	}
	if duration <= 0 {
		duration = DefaultDuration
	}

	local := dateTime.In(ix.loc)
	y, m, d := local.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, ix.loc)

	start, end, ok, err := ix.shift(ctx, doctorID, day)
	if err != nil {
		return err
	}
	if !ok {
		return Invalid("doctor does not work on %s", day.Weekday())
	}

	finish := local.Add(time.Duration(duration) * time.Minute)
	if local.Before(start) || finish.After(end) {
		return Invalid("requested time is outside working hours %s-%s", start.Format("15:04"), end.Format("15:04"))
	}
	if local.Sub(start)%ix.granularity != 0 {
		return Invalid("requested time is not aligned to %s slots", ix.granularity)
	}

	busy, err := ix.occupying(ctx, doctorID, local, finish, ignore)
	if err != nil {
		return err
	}
	if overlapsAny(local, finish, busy) {
		return ErrSlotNoLongerAvailable
	}
	return nil
}

func (ix *Index) shift(ctx context.Context, doctorID uuid.UUID, day time.Time) (start, end time.Time, ok bool, err error) {
	hours, err := ix.dir.GetDoctorWorkingHours(ctx, doctorID, day.Weekday())
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("load working hours: %w", err)
	}
	if hours == nil {
		return time.Time{}, time.Time{}, false, nil
	}

	start, err = atClock(day, hours.Start)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	end, err = atClock(day, hours.End)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false, nil
	}
	return start, end, true, nil
}

type interval struct {
	start, end time.Time
}

func (ix *Index) occupying(ctx context.Context, doctorID uuid.UUID, from, to time.Time, ignore uuid.UUID) ([]interval, error) {
	appts, err := ix.repo.ListByDoctorBetween(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}

	busy := make([]interval, 0, len(appts))
	for i := range appts {
		a := &appts[i]
		if a.ID == ignore || !a.Status.Occupying() {
			continue
		}
		busy = append(busy, interval{start: a.DateTime, end: a.End()})
	}
	return busy, nil
}

func overlapsAny(start, end time.Time, busy []interval) bool {
	for _, b := range busy {
		if start.Before(b.end) && b.start.Before(end) {
			return true
		}
	}
	return false
}

// atClock places an HH:MM wall-clock time on day.
func atClock(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse working hours %q: %w", hhmm, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
