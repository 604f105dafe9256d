package types

// Camera client -> Server (websocket, query params: code, camera_id)
// sync:
//   t0: number  // client clock ms at send
//
// sync_report:
//   t0, t1, t2, t3: number  // full round trip; at least 3 before "ready"
//
// ready: {}
//
// heartbeat: {}  // fixed period, HEARTBEAT_PERIOD_MS
//
// start_ack: {}
//
// stop_ack: {}
//
// leave: {}

// Server -> Camera client
// joined:
//   position: string
//   plan: string[]
//   arena_type: "standard" | "olympic" | "practice"
//
// sync_reply:
//   t0: number  // echoed
//   t1: number  // server clock ms at receipt
//   t2: number  // server clock ms at reply
//
// event:
//   event: "participant_joined" | "participant_left" | "dropout" |
//          "reconnected" | "state_changed" | "closed"
//   camera_id: string  // subject camera, empty for session-wide events
//   session_state: string
//
// start_recording:
//   local_start_ms: number  // start instant on THIS camera's clock
//
// stop_recording: {}
//
// aborted:
//   reason: "SyncTimeout" | "OperatorAbort"
//
// error:
//   error: "SessionNotFound" | "SessionFull" | "UnknownParticipant" |
//          "InsufficientSamples" | "InvalidState"
