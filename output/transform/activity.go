package transform

import (
	"encoding/hex"
	"encoding/json"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// ObfuscationFailedText replaces the statement text of rows that could not be obfuscated
const ObfuscationFailedText = "ERROR: failed to obfuscate"

// Internal handles and addresses that are meaningless outside the server
var excludedActivityKeys = map[string]bool{
	"sql_handle":           true,
	"plan_handle":          true,
	"statement_sql_handle": true,
	"task_address":         true,
	"page_resource":        true,
	"scheduler_id":         true,
	"context_info":         true,
}

var hashActivityKeys = []string{"query_hash", "query_plan_hash"}

type NormalizeOptions struct {
	Obfuscator util.Obfuscator
	Logger     *util.Logger

	// Estimated serialized size of a sanitized row, defaults to EstimateRowSize
	EstimateSize func(row *state.ActivityRow) int
}

// EstimateRowSize - Length of the row's JSON encoding
func EstimateRowSize(row *state.ActivityRow) int {
	b, err := json.Marshal(row)
	if err != nil {
		return 0
	}
	return len(b)
}

// NormalizeActivityRows obfuscates and sanitizes the fetched activity rows, in
// order, until the estimated size of the accepted rows would exceed maxBytes.
//
// The watermark is advanced from the start_time of every row that gets looked
// at, including the row that exceeds the budget. Idle sessions ("sleeping") are
// skipped when the watermark was unset at the start of the call. truncated is
// the number of rows left out because of the size budget.
func NormalizeActivityRows(rows []*state.ActivityRow, watermark *state.ActivityWatermark, maxBytes int, opts NormalizeOptions) (normalized []*state.ActivityRow, truncated int) {
	obfuscator := opts.Obfuscator
	if obfuscator == nil {
		obfuscator = util.TSQLObfuscator{}
	}
	estimateSize := opts.EstimateSize
	if estimateSize == nil {
		estimateSize = EstimateRowSize
	}

	firstPoll := !watermark.IsSet()

	normalized = []*state.ActivityRow{}
	estimatedSize := 0
	for idx, row := range rows {
		if firstPoll {
			if status, ok := row.GetString("status"); ok && status == "sleeping" {
				continue
			}
		}

		row = row.Clone()

		text, _ := row.GetString("text")
		obfuscated, err := obfuscator.Obfuscate(text)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.PrintVerbose("Failed to obfuscate statement: %s", err)
			}
			obfuscated = ObfuscationFailedText
		} else {
			row.Set("query_signature", state.StringValue(util.ComputeSQLSignature(obfuscated)))
		}

		if startTime, ok := row.GetTime("start_time"); ok {
			watermark.Advance(startTime)
		}

		row = sanitizeActivityRow(row, obfuscated)

		estimatedSize += estimateSize(row)
		if estimatedSize > maxBytes {
			if opts.Logger != nil {
				opts.Logger.PrintVerbose("Activity rows exceed %d bytes, dropping %d of %d rows", maxBytes, len(rows)-idx, len(rows))
			}
			return normalized, len(rows) - idx
		}

		normalized = append(normalized, row)
	}

	return normalized, 0
}

func sanitizeActivityRow(row *state.ActivityRow, obfuscatedText string) *state.ActivityRow {
	sanitized := state.NewActivityRow()
	for _, key := range row.Keys() {
		if excludedActivityKeys[key] {
			continue
		}
		value, _ := row.Get(key)
		if value.IsNull() {
			continue
		}
		sanitized.Set(key, value)
	}

	sanitized.Set("text", state.StringValue(obfuscatedText))

	for _, key := range hashActivityKeys {
		if value, ok := sanitized.Get(key); ok {
			sanitized.Set(key, hashToHex(value))
		}
	}

	return sanitized
}

func hashToHex(value state.Value) state.Value {
	switch value.Kind {
	case state.ValueBytes:
		return state.StringValue(hex.EncodeToString(value.Bytes))
	case state.ValueString:
		return state.StringValue(hex.EncodeToString([]byte(value.Str)))
	}
	return value
}
