package project

import "testing"

func TestIsToolAllowed_NoRecordAllowsAll(t *testing.T) {
	if !IsToolAllowed(nil, "a", "t1") {
		t.Fatal("expected allow when no record exists")
	}
}

func TestIsToolAllowed_EmptyAllowedServerIDsAllowsAll(t *testing.T) {
	rec := &Record{}
	if !IsToolAllowed(rec, "a", "t1") {
		t.Fatal("expected allow-all default when allowed_server_ids is empty")
	}
}

func TestIsToolAllowed_ServerLevelAllowList(t *testing.T) {
	rec := &Record{AllowedServerIDs: []string{"a"}}
	if !IsToolAllowed(rec, "a", "t1") {
		t.Fatal("expected server a to be allowed")
	}
	if IsToolAllowed(rec, "b", "t1") {
		t.Fatal("expected server b to be denied")
	}
}

func TestIsToolAllowed_ToolLevelDenyOverridesServerAllow(t *testing.T) {
	rec := &Record{
		AllowedServerIDs: []string{"a"},
		AllowedServerTool: map[string]ToolPermission{
			"a": {Type: PermissionDenyList, Tools: []string{"t1"}},
		},
	}
	if IsToolAllowed(rec, "a", "t1") {
		t.Fatal("expected t1 denied by DenyList despite server-level allow")
	}
	if !IsToolAllowed(rec, "a", "t2") {
		t.Fatal("expected t2 allowed (not in deny list)")
	}
}

func TestIsToolAllowed_ToolLevelAllowList(t *testing.T) {
	rec := &Record{
		AllowedServerTool: map[string]ToolPermission{
			"a": {Type: PermissionAllowList, Tools: []string{"t1"}},
		},
	}
	if !IsToolAllowed(rec, "a", "t1") {
		t.Fatal("expected t1 allowed")
	}
	if IsToolAllowed(rec, "a", "t2") {
		t.Fatal("expected t2 denied (not in allow list)")
	}
}
