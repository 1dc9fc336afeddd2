package outbox

const deviceActivityIngestedSchema = `{
  "type": "object",
  "title": "DeviceActivityIngested",
  "properties": {
    "device_activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "external_activity_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "category": {"type": "string", "enum": ["cardio", "strength", "other"]},
    "created": {"type": "boolean"},
    "linked_log_id": {"type": "string"},
    "start_time": {"type": "string", "format": "date-time"},
    "duration_minutes": {"type": "integer"},
    "path": {"type": "string", "enum": ["pull", "push", "edit"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["device_activity_id", "user_id", "external_activity_id", "activity_type", "category", "created", "duration_minutes", "path", "occurred_at"],
  "additionalProperties": false
}`

const xpAwardedSchema = `{
  "type": "object",
  "title": "XPAwarded",
  "properties": {
    "user_id": {"type": "string"},
    "strength_log_id": {"type": "string"},
    "device_activity_id": {"type": "string"},
    "xp": {"type": "integer", "minimum": 50, "maximum": 200},
    "minutes": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "strength_log_id", "device_activity_id", "xp", "minutes", "occurred_at"],
  "additionalProperties": false
}`
