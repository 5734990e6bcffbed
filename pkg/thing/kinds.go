package thing

// Kinds of the engineering-model domain served by the reference store. The
// engine treats them as opaque tags; they only name containment slots.
const (
	KindSiteDirectory           Kind = "SiteDirectory"
	KindPerson                  Kind = "Person"
	KindEmailAddress            Kind = "EmailAddress"
	KindDomainOfExpertise       Kind = "DomainOfExpertise"
	KindParameterType           Kind = "ParameterType"
	KindEngineeringModelSetup   Kind = "EngineeringModelSetup"
	KindIterationSetup          Kind = "IterationSetup"
	KindEngineeringModel        Kind = "EngineeringModel"
	KindIteration               Kind = "Iteration"
	KindElementDefinition       Kind = "ElementDefinition"
	KindParameter               Kind = "Parameter"
	KindPossibleFiniteStateList Kind = "PossibleFiniteStateList"
	KindPossibleFiniteState     Kind = "PossibleFiniteState"
)

// Common attribute and reference names.
const (
	AttrName      = "name"
	AttrShortName = "shortName"

	RefOwner = "owner"
)
