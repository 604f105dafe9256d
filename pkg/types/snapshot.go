package types

// GET /games/{id} snapshot:
//   id: string
//   join_code: string
//   arena_type: string
//   state: "open" | "synchronizing" | "armed" | "recording" | "stopping" | "closed" | "aborted"
//   expected_cameras: number
//   created_at: timestamp
//   abort_reason: string // only when aborted
//   participants: [{ camera_id, position, status, ready, offset_ms, highest_seq }]
