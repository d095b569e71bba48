// Package crawler defines the job model, outcome codes and collaborator
// interfaces shared by the scheduler and the response pipeline.
package crawler
