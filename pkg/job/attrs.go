package job

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/geoyin/openpbs/pkg/attr"
)

// Job attribute indices into Defs.
const (
	AttrName = iota
	AttrOwner
	AttrState
	AttrQueue
	AttrComment
	AttrExitStatus
	AttrEligibleTime
	AttrAccrueType
	AttrSampleStart
	AttrResourceList
	AttrMailPoints
	AttrHashname

	// AttrArray and everything after it describe the array as a whole and
	// are left out of subjob views.
	AttrArray
	AttrIndicesSubmitted
	AttrIndicesRemaining
	AttrStateCount

	NumAttrs
)

// Accrual types stored in accrue_type.
const (
	AccrueInitial    = 0
	AccrueIneligible = 1
	AccrueEligible   = 2
	AccrueRun        = 3
	AccrueExit       = 4
)

// Defs is the job attribute table.
var Defs = attr.Table{
	AttrName:             {Name: "Job_Name", Type: attr.TypeString, Perm: attr.ReadOnly | attr.UserWrite},
	AttrOwner:            {Name: "Job_Owner", Type: attr.TypeString, Perm: attr.ReadOnly},
	AttrState:            {Name: "job_state", Type: attr.TypeString, Perm: attr.ReadOnly},
	AttrQueue:            {Name: "queue", Type: attr.TypeString, Perm: attr.ReadOnly},
	AttrComment:          {Name: "comment", Type: attr.TypeString, Perm: attr.ReadOnly | attr.OperWrite | attr.MgrWrite},
	AttrExitStatus:       {Name: "Exit_status", Type: attr.TypeLong, Perm: attr.ReadOnly},
	AttrEligibleTime:     {Name: "eligible_time", Type: attr.TypeLong, Perm: attr.ReadOnly | attr.MgrWrite, Encode: encodeDuration, Decode: decodeDuration},
	AttrAccrueType:       {Name: "accrue_type", Type: attr.TypeLong, Perm: attr.PrivRead},
	AttrSampleStart:      {Name: "sample_starttime", Type: attr.TypeLong, Perm: attr.PrivRead, Hidden: true},
	AttrResourceList:     {Name: "Resource_List", Type: attr.TypeResource, Perm: attr.ReadOnly | attr.UserWrite, PrivateResources: []string{"preempt_targets"}},
	AttrMailPoints:       {Name: "Mail_Points", Type: attr.TypeString, Perm: attr.ReadOnly | attr.UserWrite},
	AttrHashname:         {Name: "hashname", Type: attr.TypeString, Perm: attr.MgrRead, Hidden: true},
	AttrArray:            {Name: "array", Type: attr.TypeBool, Perm: attr.ReadOnly},
	AttrIndicesSubmitted: {Name: "array_indices_submitted", Type: attr.TypeString, Perm: attr.ReadOnly},
	AttrIndicesRemaining: {Name: "array_indices_remaining", Type: attr.TypeString, Perm: attr.ReadOnly},
	AttrStateCount:       {Name: "array_state_count", Type: attr.TypeString, Perm: attr.ReadOnly},
}

// encodeDuration renders seconds as HH:MM:SS.
func encodeDuration(a *attr.Attribute, name string, _ attr.Perm) ([]attr.Fragment, error) {
	return []attr.Fragment{{Name: name, Value: FormatDuration(a.Value.Long)}}, nil
}

func decodeDuration(a *attr.Attribute, _, value string) error {
	secs, err := ParseDuration(value)
	if err != nil {
		return err
	}
	a.SetLong(secs)
	return nil
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// ParseDuration accepts plain seconds or [[HH:]MM:]SS.
func ParseDuration(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: duration %q", attr.ErrBadValue, s)
	}
	var secs int64
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: duration %q", attr.ErrBadValue, s)
		}
		secs = secs*60 + v
	}
	return secs, nil
}

// Queue attribute indices into QueueDefs.
const (
	QueueAttrType = iota
	QueueAttrTotalJobs
	QueueAttrStateCount
	QueueAttrEnabled
	QueueAttrStarted
	QueueAttrPriority

	NumQueueAttrs
)

// QueueDefs is the queue attribute table.
var QueueDefs = attr.Table{
	QueueAttrType:       {Name: "queue_type", Type: attr.TypeString, Perm: attr.ReadOnly | attr.MgrWrite},
	QueueAttrTotalJobs:  {Name: "total_jobs", Type: attr.TypeLong, Perm: attr.ReadOnly},
	QueueAttrStateCount: {Name: "state_count", Type: attr.TypeString, Perm: attr.ReadOnly},
	QueueAttrEnabled:    {Name: "enabled", Type: attr.TypeBool, Perm: attr.ReadOnly | attr.MgrWrite},
	QueueAttrStarted:    {Name: "started", Type: attr.TypeBool, Perm: attr.ReadOnly | attr.MgrWrite},
	QueueAttrPriority:   {Name: "Priority", Type: attr.TypeLong, Perm: attr.ReadOnly | attr.MgrWrite},
}

// Server attribute indices into ServerDefs.
const (
	ServerAttrState = iota
	ServerAttrTotalJobs
	ServerAttrStateCount
	ServerAttrDefaultQueue
	ServerAttrEligibleTimeEnable
	ServerAttrDefaultQdelArgs
	ServerAttrHistoryEnable
	ServerAttrHistoryDuration
	ServerAttrQueryOthers
	ServerAttrResourcesAvailable
	ServerAttrResourcesAssigned

	NumServerAttrs
)

// ServerDefs is the server attribute table.
var ServerDefs = attr.Table{
	ServerAttrState:              {Name: "server_state", Type: attr.TypeString, Perm: attr.ReadOnly},
	ServerAttrTotalJobs:          {Name: "total_jobs", Type: attr.TypeLong, Perm: attr.ReadOnly},
	ServerAttrStateCount:         {Name: "state_count", Type: attr.TypeString, Perm: attr.ReadOnly},
	ServerAttrDefaultQueue:       {Name: "default_queue", Type: attr.TypeString, Perm: attr.ReadOnly | attr.MgrWrite},
	ServerAttrEligibleTimeEnable: {Name: "eligible_time_enable", Type: attr.TypeBool, Perm: attr.ReadOnly | attr.MgrWrite},
	ServerAttrDefaultQdelArgs:    {Name: "default_qdel_arguments", Type: attr.TypeString, Perm: attr.ReadOnly | attr.MgrWrite},
	ServerAttrHistoryEnable:      {Name: "job_history_enable", Type: attr.TypeBool, Perm: attr.ReadOnly | attr.MgrWrite},
	ServerAttrHistoryDuration:    {Name: "job_history_duration", Type: attr.TypeLong, Perm: attr.ReadOnly | attr.MgrWrite, Encode: encodeDuration, Decode: decodeDuration},
	ServerAttrQueryOthers:        {Name: "query_other_jobs", Type: attr.TypeBool, Perm: attr.ReadOnly | attr.MgrWrite},
	ServerAttrResourcesAvailable: {Name: "resources_available", Type: attr.TypeResource, Perm: attr.ReadOnly | attr.MgrWrite},
	ServerAttrResourcesAssigned:  {Name: "resources_assigned", Type: attr.TypeResource, Perm: attr.ReadOnly},
}
