package mcpserver

// RecordFormatContract describes an assistance record for LLM consumers
// that read or submit records.
const RecordFormatContract = `# Assistance Record Format Contract

An assistance record logs one service intervention for a client.

## Fields

| JSON key        | Required | Notes                                                  |
|-----------------|----------|--------------------------------------------------------|
| ` + "`_id`" + `           | server   | Generated identifier, never supplied by clients        |
| ` + "`clientName`" + `    | yes      | Client name                                            |
| ` + "`technician`" + `    | yes      | Technician who handled the request                     |
| ` + "`startTime`" + `     | yes      | ` + "`HH:MM`" + `, 24-hour clock                                |
| ` + "`endTime`" + `       | yes      | ` + "`HH:MM`" + `, strictly after ` + "`startTime`" + ` on the same day     |
| ` + "`duration`" + `      | server   | Minutes between start and end, computed by the server  |
| ` + "`compiledBy`" + `    | no       | Who filled in the record                               |
| ` + "`clientGroup`" + `   | no       | Client group                                           |
| ` + "`orderNumber`" + `   | no       | Order number                                           |
| ` + "`requestSource`" + ` | no       | Channel of the request                                 |
| ` + "`requestedFrom`" + ` | no       | Person who asked for assistance                        |
| ` + "`requestDate`" + `   | no       | ` + "`YYYY-MM-DD`" + `                                           |
| ` + "`time`" + `          | no       | Time-of-day category                                   |
| ` + "`topic`" + `         | no       | Topic or category                                      |
| ` + "`description`" + `   | no       | Free text                                              |

## Rules

1. Times use the 24-hour ` + "`HH:MM`" + ` form (` + "`9:05`" + ` is accepted, ` + "`9.05`" + ` is not).
2. Windows that cross midnight are rejected: split them into two records.
3. ` + "`duration`" + ` and ` + "`_id`" + ` sent by clients are ignored.
4. Records are never deleted; corrections are made by updating fields.

## Example

` + "```" + `json
{
  "clientName": "Acme",
  "technician": "AC",
  "startTime": "09:00",
  "endTime": "10:30",
  "topic": "Rete",
  "description": "Sostituito lo switch del piano terra"
}
` + "```" + `

Stored with ` + "`\"duration\": 90`" + `.
`
