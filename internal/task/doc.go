// Package task runs entry analysis in the background. Uploads enqueue a job
// per entry on a bounded in-process queue; a fixed pool of workers claims each
// entry, sends its images to the vision analyzer through the retry executor,
// and records the outcome on the entry. A periodic sweep fails entries left in
// processing by a crashed worker and re-enqueues pending ones the queue dropped.
package task
