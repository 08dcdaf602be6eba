// Package events publishes notifications about entry analysis outcomes and
// batch saves.
//
// Publishing is fire-and-forget: a failing or slow subscriber never affects
// the operation that produced the event. The in-memory bus serves in-process
// subscribers, and the MQTT publisher forwards events to a broker for
// external consumers such as the review UI.
package events
