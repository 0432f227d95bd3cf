// Package expression is the declarative rule technology used by the rule
// engine. Rule documents are JSON or YAML, validated against an embedded
// JSON schema, and compiled by a Builder into a KnowledgeBase.
//
// A rule matches when its conditions hold against the newest fact of each
// referenced sensor:
//
//	rules:
//	  - id: x-on-turns-y-on
//	    when:
//	      logic: and
//	      conditions:
//	        - sensor: X
//	          field: value
//	          operator: eq
//	          value: "on"
//	    then:
//	      - type: switch
//	        target: Y
//	        op: on
//
// Condition fields are value, source_id, name, kind, unknown, min, max,
// original and payload. Switch values read as "on" or "off" and unknown
// readings as "N/A". Operators are eq, ne, lt, lte, gt, gte, between,
// contains, starts_with, ends_with, regex, in and not_in. Logic defaults
// to "or".
//
// Actions are switch (op on, off or toggle, optional payload value), range
// and level (set to value), custom (set state), command (run a named
// command, optional value), persist (store a sensor's fact, or the trigger)
// and log. Any value may instead be read from another sensor with
// value_from.
//
// A command or log action with format: json carries JSON. A command sends
// the snapshot of its value_from sensor, its literal value, or the
// triggering state; a log entry gains a trigger_json attribute. Range and
// level actions accept scale: [low, high] to map the value from that input
// range onto the target's bounds.
//
// A rule fires once per distinct set of fact handles it read, so it fires
// again only after one of its sensors gets a new fact. Rules without
// conditions fire once per session.
package expression
