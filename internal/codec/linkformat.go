package codec

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// EncodeRegistrationLinks builds the CoRE Link-Format (RFC 6690) body
// Register/Update sends: a root attribute entry followed by one link per
// object instance. Grounded on the teacher's registerLinkFormat/
// instanceIDList, generalized from the teacher's hard-coded object walk to
// any set of (objectID, instanceIDs) pairs, and corrected to omit object 0
// (Security) as OMA-TS-LightweightM2M-V1_0_2-20180209-A §5.3.1 requires
// ("The Security Object ID:0 MUST NOT be part of the Registration Objects
// and Object Instances list").
func EncodeRegistrationLinks(binding string, instances map[model.ID][]model.ID) []byte {
	var b strings.Builder
	b.WriteString(`</>;rt="oma.lwm2m";ct=11543`)
	if binding != "" {
		b.WriteString(`;` + "b=" + binding)
	}
	oids := make([]model.ID, 0, len(instances))
	for oid := range instances {
		if oid == model.ObjectIDSecurity {
			continue
		}
		oids = append(oids, oid)
	}
	sortIDs(oids)
	for _, oid := range oids {
		iids := append([]model.ID(nil), instances[oid]...)
		sortIDs(iids)
		if len(iids) == 0 {
			b.WriteString(",</" + strconv.Itoa(int(oid)) + ">")
			continue
		}
		for _, iid := range iids {
			b.WriteString(",</" + strconv.Itoa(int(oid)) + "/" + strconv.Itoa(int(iid)) + ">")
		}
	}
	return []byte(b.String())
}

func sortIDs(ids []model.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
