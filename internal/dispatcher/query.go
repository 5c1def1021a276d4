package dispatcher

import (
	"sort"
	"time"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// JobInfo is a point-in-time view of a job record.
type JobInfo struct {
	ID          domain.JobID    `json:"id"`
	Engine      string          `json:"engine"`
	Description string          `json:"description"`
	State       domain.JobState `json:"state"`
	Progress    domain.Progress `json:"progress"`
	Result      any             `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Foreground  bool            `json:"foreground,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (d *Dispatcher) lookup(id domain.JobID) (*record, error) {
	rec, ok := d.records[id]
	if !ok {
		return nil, domain.ErrUnknownJob
	}
	return rec, nil
}

// GetJobState returns the last state the dispatcher recorded for the job.
func (d *Dispatcher) GetJobState(id domain.JobID) (domain.JobState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.lookup(id)
	if err != nil {
		return domain.StateInvalid, err
	}
	return rec.state, nil
}

// GetJobProgress returns the snapshot taken at the last report for jobs with
// active reporting, and the job's live progress otherwise.
func (d *Dispatcher) GetJobProgress(id domain.JobID) (domain.Progress, error) {
	d.mu.Lock()
	rec, err := d.lookup(id)
	if err != nil {
		d.mu.Unlock()
		return domain.Progress{}, err
	}
	if rec.reportPeriod > 0 {
		p := rec.progress
		d.mu.Unlock()
		return p, nil
	}
	job := rec.job
	d.mu.Unlock()
	return job.Progress(), nil
}

// GetJobResult returns the result of a completed job. ok is false for any
// other state or when the job produced no result.
func (d *Dispatcher) GetJobResult(id domain.JobID) (result any, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.lookup(id)
	if err != nil {
		return nil, false, err
	}
	if rec.state != domain.StateCompleted {
		return nil, false, nil
	}
	return rec.result, rec.hasResult, nil
}

// GetJobError returns the failure of a failed job as jobErr, nil for any
// other state. err is set only when the job is unknown.
func (d *Dispatcher) GetJobError(id domain.JobID) (jobErr error, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.lookup(id)
	if err != nil {
		return nil, err
	}
	if rec.state != domain.StateFailed {
		return nil, nil
	}
	return rec.err, nil
}

// Job returns a snapshot of one job.
func (d *Dispatcher) Job(id domain.JobID) (JobInfo, error) {
	d.mu.Lock()
	rec, err := d.lookup(id)
	if err != nil {
		d.mu.Unlock()
		return JobInfo{}, err
	}
	info := d.infoLocked(rec)
	d.mu.Unlock()
	return withLiveProgress(info, rec), nil
}

// Jobs returns a snapshot of all records, ordered by ID.
func (d *Dispatcher) Jobs() []JobInfo {
	d.mu.Lock()
	recs := make([]*record, 0, len(d.records))
	infos := make([]JobInfo, 0, len(d.records))
	for _, rec := range d.records {
		recs = append(recs, rec)
		infos = append(infos, d.infoLocked(rec))
	}
	d.mu.Unlock()

	for i := range infos {
		infos[i] = withLiveProgress(infos[i], recs[i])
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (d *Dispatcher) infoLocked(rec *record) JobInfo {
	info := JobInfo{
		ID:          rec.id,
		Engine:      rec.engine,
		Description: rec.description,
		State:       rec.state,
		Progress:    rec.progress,
		Foreground:  rec.foreground,
		CreatedAt:   rec.created,
		UpdatedAt:   rec.updated,
	}
	if rec.state == domain.StateCompleted {
		info.Result = rec.result
	}
	if rec.state == domain.StateFailed && rec.err != nil {
		info.Error = rec.err.Error()
	}
	return info
}

// withLiveProgress reads job progress outside the registry lock.
func withLiveProgress(info JobInfo, rec *record) JobInfo {
	if rec.reportPeriod <= 0 {
		info.Progress = rec.job.Progress()
	}
	return info
}
