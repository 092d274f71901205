package outbox

const syncCompletedSchema = `{
  "type": "object",
  "title": "SyncCompleted",
  "properties": {
    "user_id": {"type": "string"},
    "kind": {"type": "string", "enum": ["activity", "daily_summary"]},
    "inserted": {"type": "integer"},
    "updated": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "kind", "inserted", "updated", "occurred_at"],
  "additionalProperties": false
}`

const syncRequestedSchema = `{
  "type": "object",
  "title": "SyncRequested",
  "properties": {
    "user_id": {"type": "string"},
    "kind": {"type": "string", "enum": ["activity", "daily_summary"]},
    "start_date": {"type": "string", "format": "date"},
    "end_date": {"type": "string", "format": "date"},
    "force_refresh": {"type": "boolean"}
  },
  "required": ["user_id", "kind"],
  "additionalProperties": false
}`
