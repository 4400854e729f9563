package records

// Experience is a work experience entry.
var Experience = &Definition{
	Name: "experience",
	Fields: []Field{
		{Name: "company", Type: String, Rules: "min=1,max=64"},
		{Name: "url", Type: URL, Optional: true, Nullable: true, Rules: "max=255,http_url"},
		{Name: "location", Type: String, Rules: "min=1,max=64"},
		{Name: "title", Type: String, Rules: "min=1,max=64"},
		{Name: "from", Type: Date, Rules: "datetime=2006-01-02"},
		{Name: "to", Type: Date, Optional: true, Nullable: true, Rules: "datetime=2006-01-02"},
		{Name: "description", Type: Text},
	},
}

// Skill is a single skill; category points at a SkillCategory _id.
var Skill = &Definition{
	Name: "skill",
	Fields: []Field{
		{Name: "category", Type: String, Rules: "min=1,max=36"},
		{Name: "order", Type: UInt, Optional: true, Nullable: true, Rules: "gte=0,lte=255"},
		{Name: "name", Type: String, Rules: "min=1,max=64"},
		{Name: "level", Type: UInt, Rules: "gte=1,lte=5"},
		{Name: "years", Type: UInt, Rules: "gte=0,lte=255"},
	},
	Indexes: []Index{
		{Name: "ui_name", Field: "name", Unique: true},
		{Name: "i_category", Field: "category"},
	},
}

// SkillCategory groups skills.
var SkillCategory = &Definition{
	Name: "skill_category",
	Fields: []Field{
		{Name: "name", Type: String, Rules: "min=1,max=64"},
	},
}

// Static is a keyed block of page content.
var Static = &Definition{
	Name: "static",
	Fields: []Field{
		{Name: "key", Type: String, Rules: "min=1,max=16,static_key"},
		{Name: "content", Type: Text},
	},
	Indexes: []Index{
		{Name: "ui_key", Field: "key", Unique: true, Lookup: true},
	},
}

// All lists every definition in install order.
var All = []*Definition{Experience, Skill, SkillCategory, Static}
