package domain

// JobKind distinguishes the requested operations of one solve.
type JobKind string

const (
	// JobInstall requests that a spec be satisfied in the target prefix.
	JobInstall JobKind = "install"
	// JobRemove requests that a package be absent from the target prefix.
	JobRemove JobKind = "remove"
)

// Job is a single requested change handed to the solver.
type Job struct {
	Kind JobKind
	Spec MatchSpec

	// AllowDowngrade permits selecting a version older than the one
	// currently installed under the same name.
	AllowDowngrade bool

	// ExactPin requires the spec to pin a single exact version; the
	// solver rejects range and prefix specs for pinned jobs.
	ExactPin bool
}

// InstallJobs parses raw install specs into jobs.
func InstallJobs(specs []string, allowDowngrade bool) ([]Job, error) {
	jobs := make([]Job, 0, len(specs))
	for _, s := range specs {
		spec, err := ParseMatchSpec(s)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, Job{Kind: JobInstall, Spec: spec, AllowDowngrade: allowDowngrade})
	}
	return jobs, nil
}

// RemoveJobs turns package names into remove jobs.
func RemoveJobs(names []string) ([]Job, error) {
	jobs := make([]Job, 0, len(names))
	for _, n := range names {
		spec, err := ParseMatchSpec(n)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, Job{Kind: JobRemove, Spec: spec})
	}
	return jobs, nil
}
