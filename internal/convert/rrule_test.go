package convert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRRule(t *testing.T) {
	tests := []struct {
		name string
		rec  Recurrence
		want string
	}{
		{
			name: "biweekly with count",
			rec: Recurrence{
				Pattern:        "Weekly",
				Interval:       2,
				DaysOfWeek:     []string{"Monday", "Wednesday"},
				FirstDayOfWeek: "Sunday",
				Count:          10,
			},
			want: "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;WKST=SU;COUNT=10",
		},
		{
			name: "weekly no end",
			rec: Recurrence{
				Pattern:        "Weekly",
				Interval:       1,
				DaysOfWeek:     []string{"Thursday"},
				FirstDayOfWeek: "Sunday",
			},
			want: "FREQ=WEEKLY;INTERVAL=1;BYDAY=TH;WKST=SU",
		},
		{
			name: "daily with until",
			rec: Recurrence{
				Pattern:  "Daily",
				Interval: 3,
				Until:    time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			},
			want: "FREQ=DAILY;INTERVAL=3;UNTIL=20241231",
		},
		{
			name: "absolute monthly",
			rec: Recurrence{
				Pattern:    "AbsoluteMonthly",
				Interval:   1,
				DayOfMonth: 15,
			},
			want: "FREQ=MONTHLY;INTERVAL=1;BYMONTHDAY=15",
		},
		{
			name: "relative monthly last friday",
			rec: Recurrence{
				Pattern:        "RelativeMonthly",
				Interval:       1,
				DaysOfWeek:     []string{"Friday"},
				DayOfWeekIndex: "Last",
			},
			want: "FREQ=MONTHLY;INTERVAL=1;BYDAY=FR;BYSETPOS=-1",
		},
		{
			name: "relative monthly second weekday",
			rec: Recurrence{
				Pattern:        "RelativeMonthly",
				Interval:       1,
				DaysOfWeek:     []string{"Weekday"},
				DayOfWeekIndex: "Second",
			},
			want: "FREQ=MONTHLY;INTERVAL=1;BYDAY=MO,TU,WE,TH,FR;BYSETPOS=2",
		},
		{
			name: "absolute yearly",
			rec: Recurrence{
				Pattern:    "AbsoluteYearly",
				Interval:   1,
				Month:      "March",
				DayOfMonth: 1,
			},
			want: "FREQ=YEARLY;INTERVAL=1;BYMONTH=3;BYMONTHDAY=1",
		},
		{
			name: "relative yearly first sunday of june",
			rec: Recurrence{
				Pattern:        "RelativeYearly",
				Interval:       1,
				Month:          "June",
				DaysOfWeek:     []string{"Sunday"},
				DayOfWeekIndex: "First",
			},
			want: "FREQ=YEARLY;INTERVAL=1;BYMONTH=6;BYDAY=SU;BYSETPOS=1",
		},
		{
			name: "zero interval defaults to one",
			rec: Recurrence{
				Pattern: "Daily",
			},
			want: "FREQ=DAILY;INTERVAL=1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildRRule(&tc.rec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildRRuleErrors(t *testing.T) {
	_, err := BuildRRule(&Recurrence{Pattern: "Lunar"})
	assert.Error(t, err)

	_, err = BuildRRule(&Recurrence{Pattern: "Weekly", DaysOfWeek: []string{"Caturday"}})
	assert.Error(t, err)

	_, err = BuildRRule(&Recurrence{Pattern: "RelativeMonthly", DaysOfWeek: []string{"Friday"}, DayOfWeekIndex: "Fifth"})
	assert.Error(t, err)

	_, err = BuildRRule(&Recurrence{Pattern: "AbsoluteYearly", Month: "Smarch", DayOfMonth: 1})
	assert.Error(t, err)

	got, err := BuildRRule(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
