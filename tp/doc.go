// Package tp implements the ISO 15765-2 (ISO-TP) segmentation and reassembly
// engine for classical CAN.
//
// An Engine is a passive state machine: it never starts goroutines or blocks.
// It is driven from the outside by delivering inbound frame payloads
// (Engine.Deliver), initiating transmissions (Engine.Send), and advancing
// protocol time periodically (Engine.Poll). Outbound frames and completion
// events flow through callbacks supplied at construction.
package tp
