package ews

import (
	"strings"

	"github.com/brandon/mailmigrate/internal/convert"
)

// Source maps a fetched item onto the converter input.
func (it *Item) Source() (*convert.Source, error) {
	mime, err := it.DecodeMime()
	if err != nil {
		return nil, err
	}

	src := &convert.Source{
		ItemID:          it.ItemID.String(),
		Class:           it.ItemClass,
		UID:             it.UID,
		Mime:            mime,
		Subject:         it.Subject,
		Body:            it.Body.Value,
		DisplayName:     it.DisplayName,
		Created:         ParseTime(it.Created),
		LastModified:    ParseTime(it.LastModified),
		Due:             ParseTime(it.DueDate),
		Start:           ParseTime(it.StartDate),
		PercentComplete: it.PercentComplete,
		Status:          it.Status,
		Sensitivity:     it.Sensitivity,
		Importance:      it.Importance,
		Categories:      it.Categories,
		ChangeCount:     it.ChangeCount,
		ReminderSet:     it.ReminderIsSet,
		Recurrence:      it.Recurrence.Pattern(),
	}

	if it.ReminderIsSet {
		if t := ParseTime(it.ReminderNext); !t.IsZero() {
			src.ReminderTime = t
		} else {
			src.ReminderTime = ParseTime(it.ReminderDueBy)
		}
	}

	for _, m := range it.Members.Entries {
		member := convert.Member{
			Name:  m.Mailbox.Name,
			Email: m.Mailbox.EmailAddress,
		}
		if m.Mailbox.ItemID != nil {
			member.ItemID = m.Mailbox.ItemID.ID
		}
		src.Members = append(src.Members, member)
	}

	return src, nil
}

// Pattern flattens the recurrence XML into the converter's recurrence
// form.
func (r *RecurrenceXML) Pattern() *convert.Recurrence {
	if r == nil {
		return nil
	}

	out := &convert.Recurrence{}
	var p *recurPattern
	switch {
	case r.Daily != nil:
		out.Pattern, p = "Daily", r.Daily
	case r.Weekly != nil:
		out.Pattern, p = "Weekly", r.Weekly
	case r.AbsoluteMonthly != nil:
		out.Pattern, p = "AbsoluteMonthly", r.AbsoluteMonthly
	case r.RelativeMonthly != nil:
		out.Pattern, p = "RelativeMonthly", r.RelativeMonthly
	case r.AbsoluteYearly != nil:
		out.Pattern, p = "AbsoluteYearly", r.AbsoluteYearly
	case r.RelativeYearly != nil:
		out.Pattern, p = "RelativeYearly", r.RelativeYearly
	default:
		return nil
	}

	out.Interval = p.Interval
	out.DayOfMonth = p.DayOfMonth
	out.DayOfWeekIndex = p.DayOfWeekIndex
	out.Month = p.Month
	out.FirstDayOfWeek = p.FirstDayOfWeek
	if p.DaysOfWeek != "" {
		out.DaysOfWeek = strings.Fields(p.DaysOfWeek)
	}

	switch {
	case r.Numbered != nil:
		out.Count = r.Numbered.Count
	case r.EndDate != nil:
		out.Until = ParseTime(r.EndDate.EndDate)
	}

	return out
}
