package state

import (
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
)

func TestActivityRowFromColumns(t *testing.T) {
	begin := time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC)
	start := time.Date(2021, 1, 1, 10, 0, 1, 0, time.UTC)
	columns := []string{"transaction_begin_time", "status", "session_id", "start_time", "status", "session_id"}

	tests := []struct {
		name          string
		values        []interface{}
		wantStatus    Value
		wantSessionID Value
	}{
		{
			"request replaces session values",
			[]interface{}{begin, "running", int64(52), start, "suspended", int64(52)},
			StringValue("suspended"),
			IntValue(52),
		},
		{
			"null request columns keep session values",
			[]interface{}{begin, "sleeping", int64(53), nil, nil, nil},
			StringValue("sleeping"),
			IntValue(53),
		},
		{
			"null on both sides stays null",
			[]interface{}{begin, nil, nil, nil, nil, nil},
			NullValue(),
			NullValue(),
		},
	}

	for _, test := range tests {
		row := ActivityRowFromColumns(columns, test.values)

		if diff := pretty.Compare([]string{"transaction_begin_time", "status", "session_id", "start_time"}, row.Keys()); diff != "" {
			t.Errorf("%s: keys (-want +got):\n%s", test.name, diff)
		}
		status, _ := row.Get("status")
		if diff := pretty.Compare(test.wantStatus, status); diff != "" {
			t.Errorf("%s: status (-want +got):\n%s", test.name, diff)
		}
		sessionID, _ := row.Get("session_id")
		if diff := pretty.Compare(test.wantSessionID, sessionID); diff != "" {
			t.Errorf("%s: session_id (-want +got):\n%s", test.name, diff)
		}
	}
}

func TestActivityRowMarshalJSON(t *testing.T) {
	row := ActivityRowFromColumns([]string{"status", "session_id", "query_hash"}, []interface{}{"running", int64(51), nil})

	b, err := row.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"status":"running","session_id":51,"query_hash":null}`
	if string(b) != want {
		t.Errorf("want %s; got %s", want, b)
	}
}
