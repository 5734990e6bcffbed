package session_test

import (
	"testing"

	"thingsync/testutil"
)

func TestPackageImportBoundaries(t *testing.T) {
	testutil.AssertLayer(t, ".", "session")
	testutil.AssertNoTransitiveDependency(t, ".", testutil.InternalImportForbidden, "session must stay usable outside this module")
}
