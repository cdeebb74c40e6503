package pipeline

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/danthegoodman1/rawsync/fetcher"
	"github.com/danthegoodman1/rawsync/utils"
)

// Entity describes one provider resource and the raw table it lands in.
type Entity struct {
	Name       string
	Path       string
	Query      url.Values
	Schema     string
	Table      string
	PrimaryKey []string
	// Columns are kept in this order, anything else the API returns is dropped
	Columns []string
}

var (
	ErrUnknownEntity = utils.PermError("unknown entity")

	Clients = Entity{
		Name: "clients",
		Path: "/clients",
		Query: url.Values{
			"includeNonCurrent": []string{"TRUE"},
			"includeNotes":      []string{"FALSE"},
		},
		Schema:     "raw",
		Table:      "clients",
		PrimaryKey: []string{"clientid"},
		Columns: []string{
			"clientid",
			"clientcode",
			"firstname",
			"lastname",
			"preferredname",
			"gender",
			"maritalstatus",
			"dateofbirth",
			"fundingtype",
			"clienttype",
			"hcplevel",
			"payerid",
			"suburb",
			"state",
			"postcode",
			"longitude",
			"latitude",
			"area",
			"division",
			"casemanager",
			"casemanager2",
			"languageenglish",
			"languageother",
			"interpreterrequired",
			"referral",
			"referer",
			"referercode",
			"currentstatus",
			"servicestatus",
			"servicestart",
			"serviceend",
			"current",
			"reasonserviceended",
			"preferedworker",
			"nonpreferedworker",
			fetcher.ModifiedTimeColumn,
		},
	}

	Entities = map[string]Entity{
		Clients.Name: Clients,
	}
)

func LookupEntity(name string) (Entity, error) {
	e, ok := Entities[name]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return e, nil
}

func EntityNames() []string {
	names := make([]string, 0, len(Entities))
	for name := range Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
