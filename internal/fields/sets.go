package fields

// Record keys shared by the sheets. Each is TitleToName of the column title.
const (
	ID                 = "id"
	Created            = "created"
	CreatedBy          = "createdby"
	Name               = "name"
	Email              = "email"
	Joined             = "joined"
	JoinedBy           = "joinedby"
	Renewed            = "renewed"
	RenewedBy          = "renewedby"
	Paid               = "paid"
	FirstName          = "firstname"
	LastName           = "lastname"
	PhoneNumber        = "phonenumber"
	ApartmentNumber    = "apartmentnumber"
	StreetNumber       = "streetnumber"
	StreetName         = "streetname"
	City               = "city"
	PostalCode         = "postalcode"
	AddressLatLong     = "addresslatlong"
	FamilyMemberNames  = "familymembernames"
	JoinLocation       = "joinlocation"
	VolunteerInterests = "volunteerinterests"
	Skills             = "skills"
	JoinedLatLong      = "joinedlatlong"
	JoinedAddress      = "joinedaddress"
	RenewedLatLong     = "renewedlatlong"
	RenewedAddress     = "renewedaddress"
	PaypalName         = "paypalname"
	PaypalEmail        = "paypalemail"
	PaypalPayerID      = "paypalpayerid"
	PaypalAutoRenewing = "paypalauto-renewing"
	Interest           = "interest"
	MailChimpMergeTag  = "mailchimpmergetag"
	Category           = "category"
)

// Authorized lists the admin users allowed to sign in
var Authorized = NewSet("authorized",
	New("ID", WithValidator(AlwaysValid), NotForm(), Immutable()),
	New("Created", WithValidator(AlwaysValid), NotForm(), Immutable()),
	New("Created By", WithValidator(AlwaysValid), NotForm(), Immutable()),
	New("Email", Required(), WithValidator(EmailValidator)),
	New("Name", Required()),
)

// Member is the members sheet. "Paid?" is a form field on the admin site
// but is always set by the server on self-serve joins.
var Member = NewSet("member",
	New("ID", WithValidator(AlwaysValid), Immutable(), MergeTag("MEMBER_ID")),
	New("Joined", WithValidator(AlwaysValid), NotForm(), Immutable(), MergeTag("JOINED")),
	New("Joined By", WithValidator(AlwaysValid), NotForm(), Immutable()),
	New("Renewed", WithValidator(AlwaysValid), NotForm(), MergeTag("RENEWED")),
	New("Renewed By", WithValidator(AlwaysValid), NotForm()),
	New("Paid?"),
	New("First Name", Required(), MergeTag("FNAME")),
	New("Last Name", Required(), MergeTag("LNAME")),
	New("Email", Required(), WithValidator(EmailValidator)),
	New("Phone Number", MergeTag("PHONE")),
	New("Apartment Number"),
	New("Street Number", Required()),
	New("Street Name", Required()),
	New("City", Required()),
	New("Postal Code", Required(), MergeTag("POSTCODE")),
	New("Address LatLong", NotForm()),
	New("Family Member Names"),
	New("Join Location"),
	New("Volunteer Interests", MergeTag("INTERESTS")),
	New("Skills", MergeTag("SKILLS")),
	New("Joined LatLong", NotForm()),
	New("Joined Address", NotForm()),
	New("Renewed LatLong", NotForm()),
	New("Renewed Address", NotForm()),
	New("Paypal Name", NotForm()),
	New("Paypal Email", NotForm()),
	New("Paypal Payer ID", NotForm()),
	New("Paypal Auto-Renewing", NotForm()),
)

// Volunteer is the volunteers sheet
var Volunteer = NewSet("volunteer",
	New("ID", WithValidator(AlwaysValid), Immutable(), MergeTag("MEMBER_ID")),
	New("Joined", WithValidator(AlwaysValid), NotForm(), Immutable(), MergeTag("JOINED")),
	New("Joined By", WithValidator(AlwaysValid), NotForm(), Immutable()),
	New("First Name", Required(), MergeTag("FNAME")),
	New("Last Name", Required(), MergeTag("LNAME")),
	New("Email", Required(), WithValidator(EmailValidator)),
	New("Phone Number", MergeTag("PHONE")),
	New("Apartment Number"),
	New("Street Number", Required()),
	New("Street Name", Required()),
	New("City", Required()),
	New("Postal Code", Required(), MergeTag("POSTCODE")),
	New("Address LatLong", NotForm()),
	New("Join Location"),
	New("Volunteer Interests", MergeTag("INTERESTS")),
	New("Skills", MergeTag("SKILLS")),
	New("Joined LatLong", NotForm()),
	New("Joined Address", NotForm()),
)

// VolunteerInterest maps interest areas to the reps who look after them
var VolunteerInterest = NewSet("volunteer_interest",
	New("Interest", Required()),
	New("Email", WithValidator(EmailValidator)),
	New("Name"),
	New("MailChimp Merge Tag"),
)

// SkillsCategory lists the skills offered on the forms
var SkillsCategory = NewSet("skills_category",
	New("Category", Required()),
	New("MailChimp Merge Tag"),
)
