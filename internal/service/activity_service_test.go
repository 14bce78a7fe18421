package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/models"
)

func (f *fakeScheduleStore) ListByTeacher(_ context.Context, teacherID string) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range f.sorted() {
		if s.TeacherID != nil && *s.TeacherID == teacherID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) ListDetachedByMarker(_ context.Context, markedName string) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range f.sorted() {
		if s.TeacherID == nil && s.TeacherName == markedName {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) ListByStudent(_ context.Context, studentID string) ([]models.Schedule, error) {
	var out []models.Schedule
	for _, s := range f.sorted() {
		if s.HasStudent(studentID) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) DetachTeacher(_ context.Context, id, markedName string) error {
	s, ok := f.schedules[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.TeacherID = nil
	s.TeacherName = markedName
	return nil
}

func (f *fakeScheduleStore) RestoreTeacher(_ context.Context, id, teacherID, teacherName string) error {
	s, ok := f.schedules[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.TeacherID = &teacherID
	s.TeacherName = teacherName
	return nil
}

func (f *fakeScheduleStore) UpdateStudentNames(_ context.Context, id, studentNames string) error {
	s, ok := f.schedules[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.StudentNames = studentNames
	return nil
}

type fakeActivityStudentStore struct {
	students    map[string]*models.Student
	assignments map[string]*models.TeacherAssignment
}

func newFakeActivityStudentStore() *fakeActivityStudentStore {
	return &fakeActivityStudentStore{
		students:    map[string]*models.Student{},
		assignments: map[string]*models.TeacherAssignment{},
	}
}

func (f *fakeActivityStudentStore) FindByID(_ context.Context, id string) (*models.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeActivityStudentStore) ListByClient(_ context.Context, clientID string) ([]models.Student, error) {
	ids := make([]string, 0, len(f.students))
	for id := range f.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.Student
	for _, id := range ids {
		s := f.students[id]
		if s.ClientID != nil && *s.ClientID == clientID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeActivityStudentStore) UpdateFullName(_ context.Context, id, fullName string) error {
	s, ok := f.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.FullName = fullName
	return nil
}

func (f *fakeActivityStudentStore) ListAssignmentsByTeacher(_ context.Context, teacherID string) ([]models.TeacherAssignment, error) {
	ids := make([]string, 0, len(f.assignments))
	for id := range f.assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.TeacherAssignment
	for _, id := range ids {
		a := f.assignments[id]
		if a.TeacherID != nil && *a.TeacherID == teacherID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeActivityStudentStore) ListDetachedAssignmentsByMarker(_ context.Context, markedName string) ([]models.TeacherAssignment, error) {
	ids := make([]string, 0, len(f.assignments))
	for id := range f.assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.TeacherAssignment
	for _, id := range ids {
		a := f.assignments[id]
		if a.TeacherID == nil && a.TeacherName == markedName {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeActivityStudentStore) MarkAssignmentTemporary(_ context.Context, id, markedName string, endDate time.Time) error {
	a, ok := f.assignments[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.TeacherID = nil
	a.TeacherName = markedName
	a.IsTemporary = true
	a.EndDate = &endDate
	return nil
}

func (f *fakeActivityStudentStore) RestoreAssignment(_ context.Context, id, teacherID, teacherName string) error {
	a, ok := f.assignments[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.TeacherID = &teacherID
	a.TeacherName = teacherName
	a.IsTemporary = false
	a.EndDate = nil
	return nil
}

type fakeTeacherStore struct {
	teachers map[string]*models.Teacher
}

func (f *fakeTeacherStore) FindByID(_ context.Context, id string) (*models.Teacher, error) {
	t, ok := f.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTeacherStore) SetActive(_ context.Context, id string, active bool, endDate *time.Time) error {
	t, ok := f.teachers[id]
	if !ok {
		return sql.ErrNoRows
	}
	t.Active = active
	t.EndDate = endDate
	return nil
}

func (f *fakeTeacherStore) ListByManager(_ context.Context, managerID string) ([]models.Teacher, error) {
	ids := make([]string, 0, len(f.teachers))
	for id := range f.teachers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.Teacher
	for _, id := range ids {
		t := f.teachers[id]
		if t.ManagerID != nil && *t.ManagerID == managerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTeacherStore) CountByManagerMarker(_ context.Context, markedName string) (int, error) {
	count := 0
	for _, t := range f.teachers {
		if t.ManagerID == nil && t.ManagerName != nil && *t.ManagerName == markedName {
			count++
		}
	}
	return count, nil
}

func (f *fakeTeacherStore) DetachManager(_ context.Context, teacherID, markedManagerName string) error {
	t, ok := f.teachers[teacherID]
	if !ok {
		return sql.ErrNoRows
	}
	t.ManagerID = nil
	t.ManagerName = &markedManagerName
	return nil
}

type fakeActivityClientStore struct {
	clients map[string]*models.Client
}

func (f *fakeActivityClientStore) FindByID(_ context.Context, id string) (*models.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeActivityClientStore) UpdateStatus(_ context.Context, id string, status models.LifecycleStatus) error {
	c, ok := f.clients[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Status = status
	return nil
}

type fakeUserStore struct {
	users map[string]*models.User
}

func (f *fakeUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) Update(_ context.Context, user *models.User) error {
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

type fakeRevoker struct {
	revoked []string
}

func (f *fakeRevoker) RevokeUserSessions(_ context.Context, userID string) error {
	f.revoked = append(f.revoked, userID)
	return nil
}

type fakeCascader struct {
	result *dto.ClientTransitionResult
	err    error
	calls  int
}

func (f *fakeCascader) TransitionClientStatus(_ context.Context, _ string, _, _ models.LifecycleStatus, _ string, _ time.Time) (*dto.ClientTransitionResult, error) {
	f.calls++
	return f.result, f.err
}

type activityFixture struct {
	svc       *ActivityService
	schedules *fakeScheduleStore
	students  *fakeActivityStudentStore
	teachers  *fakeTeacherStore
	clients   *fakeActivityClientStore
	users     *fakeUserStore
	revoker   *fakeRevoker
	cascader  *fakeCascader
}

func newActivityFixture() *activityFixture {
	f := &activityFixture{
		schedules: newFakeScheduleStore(),
		students:  newFakeActivityStudentStore(),
		teachers:  &fakeTeacherStore{teachers: map[string]*models.Teacher{}},
		clients:   &fakeActivityClientStore{clients: map[string]*models.Client{}},
		users:     &fakeUserStore{users: map[string]*models.User{}},
		revoker:   &fakeRevoker{},
		cascader:  &fakeCascader{result: &dto.ClientTransitionResult{}},
	}
	f.svc = NewActivityService(f.schedules, f.students, f.teachers, f.clients, f.users, f.revoker, f.cascader, ActivityMarkers{}, nil)
	return f
}

func TestToggleTeacherDeactivateSkipsAlreadyMarked(t *testing.T) {
	f := newActivityFixture()
	f.teachers.teachers["tch-1"] = &models.Teacher{ID: "tch-1", UserID: "usr-t1", FullName: "Jasur Aliyev", Active: true}
	f.users.users["usr-t1"] = &models.User{ID: "usr-t1", FullName: "Jasur Aliyev", Role: models.RoleTeacher, Active: true}

	for i := 0; i < 2; i++ {
		f.schedules.add(models.Schedule{
			StudentIDs:  []string{"stu-1"},
			TeacherID:   teacherRef("tch-1"),
			TeacherName: "Jasur Aliyev",
			SubjectID:   "sub-math",
			ClassDate:   date(2025, time.June, 9+7*i),
			StartTime:   "10:00",
			EndTime:     "11:00",
			Status:      models.ScheduleScheduled,
		})
	}
	// Leftover from a prior partial run: already detached and marked.
	f.schedules.add(models.Schedule{
		StudentIDs:  []string{"stu-1"},
		TeacherID:   nil,
		TeacherName: "Jasur Aliyev (Inactive Teacher)",
		SubjectID:   "sub-math",
		ClassDate:   date(2025, time.June, 23),
		StartTime:   "10:00",
		EndTime:     "11:00",
		Status:      models.ScheduleScheduled,
	})

	now := time.Date(2025, time.June, 4, 9, 0, 0, 0, time.UTC)
	result, err := f.svc.ToggleTeacher(context.Background(), "tch-1", false, now)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ScheduleUpdates)
	assert.False(t, f.teachers.teachers["tch-1"].Active)
	assert.False(t, f.users.users["usr-t1"].Active)
	assert.Equal(t, []string{"usr-t1"}, f.revoker.revoked)
	for _, s := range f.schedules.schedules {
		assert.Nil(t, s.TeacherID)
		assert.Equal(t, "Jasur Aliyev (Inactive Teacher)", s.TeacherName)
	}
}

func TestToggleTeacherRoundTrip(t *testing.T) {
	f := newActivityFixture()
	f.teachers.teachers["tch-1"] = &models.Teacher{ID: "tch-1", UserID: "usr-t1", FullName: "Jasur Aliyev", Active: true}
	f.users.users["usr-t1"] = &models.User{ID: "usr-t1", FullName: "Jasur Aliyev", Role: models.RoleTeacher, Active: true}
	sched := f.schedules.add(models.Schedule{
		StudentIDs:  []string{"stu-1"},
		TeacherID:   teacherRef("tch-1"),
		TeacherName: "Jasur Aliyev",
		SubjectID:   "sub-math",
		ClassDate:   date(2025, time.June, 9),
		StartTime:   "10:00",
		EndTime:     "11:00",
		Status:      models.ScheduleScheduled,
	})
	f.students.assignments["asg-1"] = &models.TeacherAssignment{
		ID: "asg-1", StudentID: "stu-1", TeacherID: teacherRef("tch-1"), TeacherName: "Jasur Aliyev", SubjectID: "sub-math",
	}

	now := time.Date(2025, time.June, 4, 9, 0, 0, 0, time.UTC)
	down, err := f.svc.ToggleTeacher(context.Background(), "tch-1", false, now)
	require.NoError(t, err)
	assert.Equal(t, 1, down.ScheduleUpdates)
	assert.Equal(t, 1, down.StudentUpdates)
	assert.True(t, f.students.assignments["asg-1"].IsTemporary)
	assert.False(t, f.users.users["usr-t1"].Active)
	assert.Equal(t, []string{"usr-t1"}, f.revoker.revoked)

	up, err := f.svc.ToggleTeacher(context.Background(), "tch-1", true, now)
	require.NoError(t, err)
	assert.Equal(t, 1, up.ScheduleUpdates)
	assert.Equal(t, 1, up.StudentUpdates)
	assert.True(t, f.users.users["usr-t1"].Active)

	restored := f.schedules.schedules[sched.ID]
	require.NotNil(t, restored.TeacherID)
	assert.Equal(t, "tch-1", *restored.TeacherID)
	assert.Equal(t, "Jasur Aliyev", restored.TeacherName)
	assert.False(t, f.students.assignments["asg-1"].IsTemporary)
}

func TestToggleSupervisorAsymmetry(t *testing.T) {
	f := newActivityFixture()
	f.users.users["sup-1"] = &models.User{ID: "sup-1", FullName: "Malika Yusupova", Role: models.RoleSupervisor, Active: true}
	managerID := "sup-1"
	managerName := "Malika Yusupova"
	f.teachers.teachers["tch-1"] = &models.Teacher{ID: "tch-1", FullName: "Jasur Aliyev", Active: true, ManagerID: &managerID, ManagerName: &managerName}
	f.teachers.teachers["tch-2"] = &models.Teacher{ID: "tch-2", FullName: "Nodira Azimova", Active: true, ManagerID: &managerID, ManagerName: &managerName}

	now := time.Date(2025, time.June, 4, 9, 0, 0, 0, time.UTC)
	down, err := f.svc.ToggleSupervisor(context.Background(), "sup-1", false, now)
	require.NoError(t, err)
	assert.Equal(t, 2, down.TeachersDetached)
	assert.False(t, f.users.users["sup-1"].Active)
	assert.Nil(t, f.teachers.teachers["tch-1"].ManagerID)

	// Reactivation only reports the count; manager links stay detached.
	up, err := f.svc.ToggleSupervisor(context.Background(), "sup-1", true, now)
	require.NoError(t, err)
	assert.Equal(t, 2, up.TeachersNeedingManager)
	assert.Nil(t, f.teachers.teachers["tch-1"].ManagerID)
	assert.Nil(t, f.teachers.teachers["tch-2"].ManagerID)
	assert.True(t, f.users.users["sup-1"].Active)
}

func TestToggleSupervisorRejectsOtherRoles(t *testing.T) {
	f := newActivityFixture()
	f.users.users["usr-1"] = &models.User{ID: "usr-1", Role: models.RoleTeacher}

	_, err := f.svc.ToggleSupervisor(context.Background(), "usr-1", false, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a supervisor")
}

func TestToggleClientDeactivateMarksStudentsAndPatchesSharedSchedules(t *testing.T) {
	f := newActivityFixture()
	clientID := "cli-1"
	f.clients.clients[clientID] = &models.Client{ID: clientID, UserID: "usr-c1", FullName: "Karimov Family", Status: models.StatusRegular}
	f.users.users["usr-c1"] = &models.User{ID: "usr-c1", FullName: "Karimov Family", Role: models.RoleClient, Active: true}
	f.students.students["stu-1"] = &models.Student{ID: "stu-1", ClientID: &clientID, FullName: "Aisha Karimova"}

	// Shared schedule with a student from another family.
	shared := f.schedules.add(models.Schedule{
		StudentIDs:   []string{"stu-1", "stu-other"},
		StudentNames: "Aisha Karimova, Umar Rashidov",
		SubjectID:    "sub-math",
		ClassDate:    date(2025, time.June, 9),
		StartTime:    "10:00",
		EndTime:      "11:00",
		Status:       models.ScheduleScheduled,
	})

	now := time.Date(2025, time.June, 4, 9, 0, 0, 0, time.UTC)
	result, err := f.svc.ToggleClient(context.Background(), clientID, false, "admin-1", now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.StudentUpdates)
	assert.Equal(t, 1, result.ScheduleUpdates)
	assert.Equal(t, 1, f.cascader.calls)
	assert.Equal(t, models.StatusDrop, f.clients.clients[clientID].Status)
	assert.False(t, f.users.users["usr-c1"].Active)
	assert.Equal(t, []string{"usr-c1"}, f.revoker.revoked)
	assert.Equal(t, "Aisha Karimova (Inactive Student)", f.students.students["stu-1"].FullName)
	assert.Equal(t, "Aisha Karimova (Inactive Student), Umar Rashidov", f.schedules.schedules[shared.ID].StudentNames)
	assert.Empty(t, result.ScheduleError)

	// Reactivation strips the markers again and re-enables the login.
	back, err := f.svc.ToggleClient(context.Background(), clientID, true, "admin-1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, back.StudentUpdates)
	assert.True(t, f.users.users["usr-c1"].Active)
	assert.Equal(t, "Aisha Karimova", f.students.students["stu-1"].FullName)
	assert.False(t, strings.Contains(f.schedules.schedules[shared.ID].StudentNames, "(Inactive Student)"))
}

func TestToggleClientLeavesPrefixedNamesAlone(t *testing.T) {
	f := newActivityFixture()
	clientID := "cli-1"
	f.clients.clients[clientID] = &models.Client{ID: clientID, FullName: "Karimov Family", Status: models.StatusRegular}
	f.students.students["stu-1"] = &models.Student{ID: "stu-1", ClientID: &clientID, FullName: "Aisha Karimov"}

	// Another participant whose name extends the affected student's.
	shared := f.schedules.add(models.Schedule{
		StudentIDs:   []string{"stu-1", "stu-other"},
		StudentNames: "Aisha Karimov, Aisha Karimova",
		SubjectID:    "sub-math",
		ClassDate:    date(2025, time.June, 9),
		StartTime:    "10:00",
		EndTime:      "11:00",
		Status:       models.ScheduleScheduled,
	})

	now := time.Date(2025, time.June, 4, 9, 0, 0, 0, time.UTC)
	_, err := f.svc.ToggleClient(context.Background(), clientID, false, "admin-1", now)
	require.NoError(t, err)
	assert.Equal(t, "Aisha Karimov (Inactive Student), Aisha Karimova", f.schedules.schedules[shared.ID].StudentNames)

	_, err = f.svc.ToggleClient(context.Background(), clientID, true, "admin-1", now)
	require.NoError(t, err)
	assert.Equal(t, "Aisha Karimov, Aisha Karimova", f.schedules.schedules[shared.ID].StudentNames)
}

func TestToggleClientReportsCascadeErrorWithoutRollback(t *testing.T) {
	f := newActivityFixture()
	clientID := "cli-1"
	f.clients.clients[clientID] = &models.Client{ID: clientID, Status: models.StatusRegular}
	f.cascader.err = assert.AnError

	result, err := f.svc.ToggleClient(context.Background(), clientID, false, "admin-1", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, result.ScheduleError)
	assert.Nil(t, result.ClientStatusUpdate)
	assert.Equal(t, models.StatusDrop, f.clients.clients[clientID].Status)
}
