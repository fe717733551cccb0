package types

// Standard collection names for Store.Collection.
const (
	ObjectTypesCollection = "objectTypes"
	InstancesCollection   = "instances"
	ValuesCollection      = "values"
	DiffsCollection       = "diffs"
	SettingsCollection    = "settings"
	MetaCollection        = "meta"
)

// StandardCollectionNames lists all standard collection names for enumeration.
var StandardCollectionNames = []string{
	ObjectTypesCollection,
	InstancesCollection,
	ValuesCollection,
	DiffsCollection,
	SettingsCollection,
	MetaCollection,
}

// Secondary index names accepted by Collection.QueryByIndex.
const (
	IndexKey       = "key"       // objectTypes, instances (unique)
	IndexType      = "type"      // instances (object type id), meta (meta type)
	IndexScope     = "scope"     // instances (scope type)
	IndexInstance  = "instance"  // values, diffs
	IndexTemplate  = "template"  // values
	IndexStatus    = "status"    // values, diffs
	IndexCreatedAt = "createdAt" // diffs
)
