// Package viewer implements the inference detail view: it polls a job until
// it reaches a terminal status, hydrates the job's artifacts into blob
// handles, and tracks which results are marked for a push to CVAT.
//
// A View owns every handle it hydrates. Navigating to another job or closing
// the view releases them before anything else happens, and responses that
// arrive for an abandoned job are discarded.
package viewer
