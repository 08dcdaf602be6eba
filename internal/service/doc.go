// Package service contains the application use cases of the medicine intake
// pipeline. It orchestrates the entry and medication stores, the image store
// and the analysis queue so the API layer only translates HTTP to calls here.
//
// Key components:
//
//   - EntryService: entry lifecycle from creation through upload, retry,
//     review and deletion.
//   - ApprovalCoordinator: turns approved entries into inventory records,
//     one entry at a time, and removes the entries it saved.
//
// Services receive dependencies through constructor injection and depend only
// on interfaces from internal/store and internal/imagestore.
package service
