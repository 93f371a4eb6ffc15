package convert

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-ical"

	"github.com/brandon/mailmigrate/pkg/types"
)

// taskConverter builds a VTODO from item properties. The source
// exports tasks as mail snapshots that drop most task fields, so the
// iCalendar object is synthesized field by field instead of being
// repaired.
type taskConverter struct{}

func (c *taskConverter) Type() string    { return types.TypeTask }
func (c *taskConverter) FileExt() string { return "ics" }

var taskStatusMap = map[string]string{
	"NotStarted":      "X-NOTSTARTED",
	"InProgress":      "IN-PROCESS",
	"Completed":       "COMPLETED",
	"WaitingOnOthers": "NEEDS-ACTION",
	"Deferred":        "CANCELLED",
}

var classMap = map[string]string{
	"CONFIDENTIAL": "CONFIDENTIAL",
	"NORMAL":       "PUBLIC",
	"PERSONAL":     "PUBLIC",
	"PRIVATE":      "PRIVATE",
}

var priorityMap = map[string]string{
	"Low":    "1",
	"Normal": "5",
	"High":   "9",
}

func (c *taskConverter) Convert(src *Source, ctx *Context) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "Kolab EWS Data Migrator")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")

	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, ItemUID(src.UID, src.ItemID))
	todo.Props.SetText("X-MS-ID", src.ItemID)
	todo.Props.SetText(ical.PropSummary, src.Subject)
	if src.Body != "" {
		todo.Props.SetText(ical.PropDescription, src.Body)
	}
	if !src.LastModified.IsZero() {
		todo.Props.SetDateTime(ical.PropDateTimeStamp, src.LastModified.UTC())
	}
	if !src.Created.IsZero() {
		todo.Props.SetDateTime(ical.PropCreated, src.Created.UTC())
	}
	if !src.Due.IsZero() {
		todo.Props.SetDateTime(ical.PropDue, src.Due.UTC())
	}
	if !src.Start.IsZero() {
		todo.Props.SetDateTime(ical.PropDateTimeStart, src.Start.UTC())
	}

	todo.Props.SetText(ical.PropSequence, strconv.Itoa(src.ChangeCount))
	setRawProp(todo, "PERCENT-COMPLETE", strconv.Itoa(src.PercentComplete))

	if status, ok := taskStatusMap[src.Status]; ok {
		todo.Props.SetText(ical.PropStatus, status)
	} else if src.Status != "" {
		todo.Props.SetText(ical.PropStatus, strings.ToUpper(src.Status))
	}

	if src.Sensitivity != "" {
		class, ok := classMap[strings.ToUpper(src.Sensitivity)]
		if !ok {
			class = "PUBLIC"
		}
		todo.Props.SetText(ical.PropClass, class)
	}

	if prio, ok := priorityMap[src.Importance]; ok {
		todo.Props.SetText(ical.PropPriority, prio)
	}

	if len(src.Categories) > 0 {
		setRawProp(todo, ical.PropCategories, strings.Join(src.Categories, ","))
	}

	if ctx.OwnerEmail != "" {
		setRawProp(todo, ical.PropOrganizer, "mailto:"+ctx.OwnerEmail)
	}

	if src.Recurrence != nil {
		rule, err := BuildRRule(src.Recurrence)
		if err != nil {
			ctx.Logger.WithError(err).WithField("item", src.ItemID).
				Warn("Skipping unsupported recurrence pattern")
		} else if rule != "" {
			setRawProp(todo, ical.PropRecurrenceRule, rule)
		}
	}

	if src.ReminderSet && !src.ReminderTime.IsZero() {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Params.Set(ical.ParamValue, "DATE-TIME")
		trigger.Value = src.ReminderTime.UTC().Format("20060102T150405Z")
		alarm.Props.Set(trigger)
		todo.Children = append(todo.Children, alarm)
	}

	for _, a := range src.Attachments {
		if len(a.Content) == 0 {
			continue
		}
		attach := ical.NewProp(ical.PropAttach)
		attach.Params.Set(ical.ParamValue, "BINARY")
		attach.Params.Set(ical.ParamEncoding, "BASE64")
		attach.Params.Set(ical.ParamFormatType, a.ContentType)
		attach.Params.Set("X-LABEL", a.Name)
		attach.Value = base64.StdEncoding.EncodeToString(a.Content)
		todo.Props.Add(attach)
	}

	cal.Children = append(cal.Children, todo)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode todo: %w", err)
	}
	return buf.Bytes(), nil
}

// setRawProp sets a property value verbatim, without text escaping.
// Used for structured values (RRULE, cal-address, value lists) where
// escaping would corrupt the content.
func setRawProp(comp *ical.Component, name, value string) {
	p := ical.NewProp(name)
	p.Value = value
	comp.Props.Set(p)
}
