package remote

import (
	"context"
	"time"

	"github.com/google/uuid"

	"thingsync/internal/infra/persistence/memory"
	"thingsync/pkg/thing"
)

var seedNamespace = uuid.MustParse("6f1c8a52-3b2e-4d8a-9a57-0c4d2f7e91b3")

func seedID(name string) uuid.UUID { return uuid.NewSHA1(seedNamespace, []byte(name)) }

// Ids of the built-in seed records.
var (
	SeedSiteDirectory   = seedID("site-directory")
	SeedDomainSystems   = seedID("domain/SYS")
	SeedDomainPower     = seedID("domain/PWR")
	SeedAdmin           = seedID("person/admin")
	SeedAdminEmail      = seedID("person/admin/email")
	SeedMass            = seedID("parameter-type/mass")
	SeedLength          = seedID("parameter-type/length")
	SeedModelSetup      = seedID("model-setup/satellite")
	SeedIterationSetup  = seedID("model-setup/satellite/iteration/1")
	SeedModel           = seedID("model/satellite")
	SeedIteration       = seedID("model/satellite/iteration/1")
	SeedSatellite       = seedID("model/satellite/element/satellite")
	SeedSatelliteMass   = seedID("model/satellite/element/satellite/mass")
	seedModifiedOn      = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	seedInitialRevision = int64(1)
)

// BuiltinSeed is a small site directory plus one engineering model.
type BuiltinSeed struct{}

// Seed builds the snapshot.
func (BuiltinSeed) Seed(context.Context) (memory.Snapshot, error) {
	return DefaultSnapshot(), nil
}

// DefaultSnapshot returns the built-in seed state.
func DefaultSnapshot() memory.Snapshot {
	named := func(id uuid.UUID, kind thing.Kind, name, short string) *thing.Thing {
		t := thing.NewWithID(id, kind)
		t.Revision = seedInitialRevision
		t.ModifiedOn = seedModifiedOn
		t.SetAttr(thing.AttrName, name)
		if short != "" {
			t.SetAttr(thing.AttrShortName, short)
		}
		return t
	}

	site := named(SeedSiteDirectory, thing.KindSiteDirectory, "Site Directory", "site")
	sys := named(SeedDomainSystems, thing.KindDomainOfExpertise, "System Engineering", "SYS")
	pwr := named(SeedDomainPower, thing.KindDomainOfExpertise, "Power", "PWR")
	site.Adopt(sys)
	site.Adopt(pwr)

	admin := named(SeedAdmin, thing.KindPerson, "Administrator", "admin")
	admin.SetRef("defaultDomain", sys.ID)
	email := named(SeedAdminEmail, thing.KindEmailAddress, "admin@example.com", "")
	email.SetAttr("value", "admin@example.com")
	email.SetAttr("vcardType", "WORK")
	admin.Adopt(email)
	site.Adopt(admin)

	mass := named(SeedMass, thing.KindParameterType, "mass", "m")
	mass.SetAttr("unit", "kg")
	length := named(SeedLength, thing.KindParameterType, "length", "l")
	length.SetAttr("unit", "m")
	site.Adopt(mass)
	site.Adopt(length)

	setup := named(SeedModelSetup, thing.KindEngineeringModelSetup, "Satellite Study", "SAT")
	setup.SetRef("engineeringModel", SeedModel)
	iterSetup := named(SeedIterationSetup, thing.KindIterationSetup, "Iteration 1", "")
	iterSetup.SetAttr("iterationNumber", 1)
	iterSetup.SetRef("iteration", SeedIteration)
	setup.Adopt(iterSetup)
	site.Adopt(setup)

	model := named(SeedModel, thing.KindEngineeringModel, "Satellite Study", "SAT")
	model.SetRef("engineeringModelSetup", setup.ID)
	iteration := named(SeedIteration, thing.KindIteration, "Iteration 1", "")
	iteration.SetRef("iterationSetup", iterSetup.ID)
	model.Adopt(iteration)
	satellite := named(SeedSatellite, thing.KindElementDefinition, "Satellite", "SAT")
	satellite.SetRef(thing.RefOwner, sys.ID)
	iteration.Adopt(satellite)
	param := thing.NewWithID(SeedSatelliteMass, thing.KindParameter)
	param.Revision = seedInitialRevision
	param.ModifiedOn = seedModifiedOn
	param.SetRef("parameterType", mass.ID)
	param.SetRef(thing.RefOwner, sys.ID)
	satellite.Adopt(param)

	snap := memory.Snapshot{Catalog: site.ID, Records: make(map[uuid.UUID]thing.Record)}
	for _, root := range []*thing.Thing{site, model} {
		for _, r := range thing.SubtreeRecords(root) {
			snap.Records[r.ID] = r
		}
	}
	return snap
}
