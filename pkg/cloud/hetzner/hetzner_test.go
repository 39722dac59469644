package hetzner

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/interaction"
	"github.com/ICRAR/fabtemplate/pkg/poll"
	"github.com/ICRAR/fabtemplate/pkg/testutil"
	cerr "github.com/cockroachdb/errors"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServers struct {
	servers  map[int64]*hcloud.Server
	created  []hcloud.ServerCreateOpts
	deleted  []string
	listOpts []hcloud.ServerListOpts
	// GetByID calls before a server reports running
	bootAfter int
	gets      int
	deleteErr error
}

var _ ServerAPI = (*fakeServers)(nil)

func newFakeServers() *fakeServers {
	return &fakeServers{servers: map[int64]*hcloud.Server{}}
}

func (f *fakeServers) Create(_ context.Context, opts hcloud.ServerCreateOpts) (hcloud.ServerCreateResult, *hcloud.Response, error) {
	f.created = append(f.created, opts)
	id := int64(len(f.created))
	s := &hcloud.Server{
		ID:         id,
		Name:       opts.Name,
		Status:     hcloud.ServerStatusInitializing,
		ServerType: opts.ServerType,
		Labels:     opts.Labels,
		PublicNet:  hcloud.ServerPublicNet{IPv4: hcloud.ServerPublicNetIPv4{IP: net.IPv4(10, 1, 0, byte(id))}},
	}
	f.servers[id] = s
	return hcloud.ServerCreateResult{Server: s}, nil, nil
}

func (f *fakeServers) Get(_ context.Context, ref string) (*hcloud.Server, *hcloud.Response, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return f.servers[id], nil, nil
	}
	for _, s := range f.servers {
		if s.Name == ref {
			return s, nil, nil
		}
	}
	return nil, nil, nil
}

func (f *fakeServers) GetByID(_ context.Context, id int64) (*hcloud.Server, *hcloud.Response, error) {
	f.gets++
	s := f.servers[id]
	if s != nil && f.gets > f.bootAfter {
		s.Status = hcloud.ServerStatusRunning
	}
	return s, nil, nil
}

func (f *fakeServers) List(_ context.Context, opts hcloud.ServerListOpts) ([]*hcloud.Server, *hcloud.Response, error) {
	f.listOpts = append(f.listOpts, opts)
	var out []*hcloud.Server
	for _, s := range f.servers {
		out = append(out, s)
	}
	return out, nil, nil
}

func (f *fakeServers) DeleteWithResult(_ context.Context, s *hcloud.Server) (*hcloud.ServerDeleteResult, *hcloud.Response, error) {
	if f.deleteErr != nil {
		return nil, nil, f.deleteErr
	}
	f.deleted = append(f.deleted, s.Name)
	return &hcloud.ServerDeleteResult{}, nil, nil
}

type fakeKeys struct {
	keys      map[string]*hcloud.SSHKey
	createErr error
}

func (f *fakeKeys) GetByName(_ context.Context, name string) (*hcloud.SSHKey, *hcloud.Response, error) {
	return f.keys[name], nil, nil
}

func (f *fakeKeys) Create(_ context.Context, opts hcloud.SSHKeyCreateOpts) (*hcloud.SSHKey, *hcloud.Response, error) {
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	k := &hcloud.SSHKey{ID: int64(len(f.keys) + 1), Name: opts.Name, PublicKey: opts.PublicKey, Labels: opts.Labels}
	f.keys[opts.Name] = k
	return k, nil, nil
}

func TestLabel(t *testing.T) {
	t.Parallel()

	type labelCase struct{ in, want string }
	tests := []testutil.TableTest[labelCase]{
		{Name: "plain", Input: labelCase{"NGAS", "NGAS"}},
		{Name: "space", Input: labelCase{"Created By", "Created-By"}},
		{Name: "at sign", Input: labelCase{"alice@10.0.0.1", "alice-10.0.0.1"}},
		{Name: "edges", Input: labelCase{" _x_ ", "x"}},
		{Name: "long", Input: labelCase{strings.Repeat("a", 70), strings.Repeat("a", 63)}},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.Input.want, Label(tt.Input.in))
		})
	}
}

func TestLabels(t *testing.T) {
	t.Parallel()

	got := Labels(cloud.OwnershipTags("ngas", "NGAS_master", "ngas", "10.0.0.1"))
	assert.Equal(t, map[string]string{
		"name":             "NGAS_master",
		"created-by":       "ngas-10.0.0.1",
		"ngas-user":        "ngas",
		"allocate-cost-to": "NGAS",
	}, got)
	assert.Equal(t, "allocate-cost-to=NGAS", Selector("ngas"))
}

func TestEnsureSSHKey(t *testing.T) {
	t.Parallel()

	keys := &fakeKeys{keys: map[string]*hcloud.SSHKey{}}
	key, err := EnsureSSHKey(testutil.RC(t), keys, "deploy", "ssh-ed25519 AAAA me\n")
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519 AAAA me", key.PublicKey)

	again, err := EnsureSSHKey(testutil.RC(t), keys, "deploy", "ignored")
	require.NoError(t, err)
	assert.Same(t, key, again)

	keys.createErr = hcloud.Error{Code: hcloud.ErrorCodeUniquenessError, Message: "SSH key not unique"}
	_, err = EnsureSSHKey(testutil.RC(t), keys, "other", "ssh-ed25519 AAAA me")
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))
}

func createOptions() CreateOptions {
	return CreateOptions{
		App:          "NGAS",
		AppUser:      "ngas",
		BaseName:     "NGAS_master",
		Count:        2,
		SSHKey:       &hcloud.SSHKey{ID: 7, Name: "deploy"},
		Owner:        "alice@10.0.0.1",
		WaitTimeout:  time.Second,
		PollInterval: time.Millisecond,
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	api := newFakeServers()
	api.bootAfter = 3
	instances, err := Create(testutil.RC(t), api, createOptions())
	require.NoError(t, err)
	require.Len(t, instances, 2)

	require.Len(t, api.created, 2)
	first := api.created[0]
	assert.Equal(t, "ngas-master-0", first.Name)
	assert.Equal(t, DefaultServerType, first.ServerType.Name)
	assert.Equal(t, DefaultImage, first.Image.Name)
	assert.Equal(t, "deploy", first.SSHKeys[0].Name)
	assert.Nil(t, first.Location)
	assert.Equal(t, "NGAS_master_0", first.Labels["name"])
	assert.Equal(t, "alice-10.0.0.1", first.Labels["created-by"])

	assert.Equal(t, "running", instances[0].State)
	assert.Equal(t, "10.1.0.1", instances[0].Address())
	assert.Equal(t, "1", instances[0].ID)
}

func TestCreateTimesOut(t *testing.T) {
	t.Parallel()

	api := newFakeServers()
	api.bootAfter = 1 << 30
	opts := createOptions()
	opts.WaitTimeout = 20 * time.Millisecond
	_, err := Create(testutil.RC(t), api, opts)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, poll.ErrTimeout))
}

func TestList(t *testing.T) {
	t.Parallel()

	api := newFakeServers()
	_, err := List(testutil.RC(t), api, "ngas", false)
	require.NoError(t, err)
	_, err = List(testutil.RC(t), api, "ngas", true)
	require.NoError(t, err)
	assert.Equal(t, "allocate-cost-to=NGAS", api.listOpts[0].LabelSelector)
	assert.Empty(t, api.listOpts[1].LabelSelector)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	yes := interaction.Prompter{AssumeYes: true}

	t.Run("declined", func(t *testing.T) {
		t.Parallel()
		api := newFakeServers()
		_, err := Create(testutil.RC(t), api, createOptions())
		require.NoError(t, err)
		no := interaction.Prompter{In: strings.NewReader("no\n"), Out: &strings.Builder{}, Interactive: func() bool { return true }}
		err = Delete(testutil.RC(t), api, []string{"ngas-master-0"}, no)
		require.Error(t, err)
		assert.Empty(t, api.deleted)
	})

	t.Run("by name and id", func(t *testing.T) {
		t.Parallel()
		api := newFakeServers()
		_, err := Create(testutil.RC(t), api, createOptions())
		require.NoError(t, err)
		require.NoError(t, Delete(testutil.RC(t), api, []string{"ngas-master-0", "2", "missing"}, yes))
		assert.Equal(t, []string{"ngas-master-0", "ngas-master-1"}, api.deleted)
	})

	t.Run("already gone", func(t *testing.T) {
		t.Parallel()
		api := newFakeServers()
		_, err := Create(testutil.RC(t), api, createOptions())
		require.NoError(t, err)
		api.deleteErr = hcloud.Error{Code: hcloud.ErrorCodeNotFound, Message: "server not found"}
		require.NoError(t, Delete(testutil.RC(t), api, []string{"1"}, yes))
	})

	t.Run("nothing named", func(t *testing.T) {
		t.Parallel()
		err := Delete(testutil.RC(t), newFakeServers(), nil, yes)
		require.Error(t, err)
	})
}

func TestThrottleHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := throttle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
