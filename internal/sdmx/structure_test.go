package sdmx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structureFixture = `<?xml version="1.0" encoding="UTF-8"?>
<mes:Structure xmlns:mes="http://www.sdmx.org/resources/sdmxml/schemas/v2_1/message"
               xmlns:str="http://www.sdmx.org/resources/sdmxml/schemas/v2_1/structure"
               xmlns:com="http://www.sdmx.org/resources/sdmxml/schemas/v2_1/common">
  <mes:Structures>
    <str:Codelists>
      <str:Codelist id="CL_FREQ" agencyID="ECB">
        <com:Name xml:lang="en">Frequency code list</com:Name>
        <str:Code id="A"><com:Name xml:lang="fr">Annuel</com:Name><com:Name xml:lang="en">Annual</com:Name></str:Code>
        <str:Code id="Q"><com:Name xml:lang="en">Quarterly</com:Name></str:Code>
      </str:Codelist>
      <str:Codelist id="CL_CURRENCY" agencyID="ECB">
        <str:Code id="EUR"><com:Name xml:lang="en">Euro</com:Name></str:Code>
      </str:Codelist>
    </str:Codelists>
    <str:Concepts>
      <str:ConceptScheme id="ECB_CONCEPTS" agencyID="ECB">
        <str:Concept id="FREQ"><com:Name xml:lang="en">Frequency</com:Name></str:Concept>
        <str:Concept id="CURRENCY"><com:Name xml:lang="en">Currency</com:Name></str:Concept>
        <str:Concept id="TITLE"><com:Name xml:lang="en">Title</com:Name></str:Concept>
      </str:ConceptScheme>
    </str:Concepts>
    <str:DataStructures>
      <str:DataStructure id="ECB_EXR1" agencyID="ECB">
        <com:Name xml:lang="en">Exchange Rates</com:Name>
        <str:DataStructureComponents>
          <str:DimensionList id="DimensionDescriptor">
            <str:Dimension id="CURRENCY" position="2">
              <str:ConceptIdentity><Ref id="CURRENCY" agencyID="ECB"/></str:ConceptIdentity>
              <str:LocalRepresentation>
                <str:Enumeration><Ref id="CL_CURRENCY" agencyID="ECB"/></str:Enumeration>
              </str:LocalRepresentation>
            </str:Dimension>
            <str:Dimension id="FREQ" position="1">
              <str:ConceptIdentity><Ref id="FREQ" agencyID="ECB"/></str:ConceptIdentity>
              <str:LocalRepresentation>
                <str:Enumeration><Ref id="CL_FREQ" agencyID="ECB"/></str:Enumeration>
              </str:LocalRepresentation>
            </str:Dimension>
          </str:DimensionList>
          <str:AttributeList id="AttributeDescriptor">
            <str:Attribute id="TITLE">
              <str:ConceptIdentity><Ref id="TITLE" agencyID="ECB"/></str:ConceptIdentity>
            </str:Attribute>
          </str:AttributeList>
        </str:DataStructureComponents>
      </str:DataStructure>
    </str:DataStructures>
    <str:Dataflows>
      <str:Dataflow id="EXR" agencyID="ECB">
        <com:Name xml:lang="en">Exchange rates</com:Name>
        <str:Structure><Ref id="ECB_EXR1" agencyID="ECB"/></str:Structure>
      </str:Dataflow>
    </str:Dataflows>
    <str:CategorySchemes>
      <str:CategoryScheme id="MOBILE_NAVI" agencyID="ECB">
        <com:Name xml:lang="en">Economic concepts</com:Name>
        <str:Category id="01">
          <com:Name xml:lang="en">Monetary operations</com:Name>
          <str:Category id="0101">
            <com:Name xml:lang="en">Key interest rates</com:Name>
          </str:Category>
        </str:Category>
        <str:Category id="07">
          <com:Name xml:lang="en">Exchange rates</com:Name>
        </str:Category>
      </str:CategoryScheme>
    </str:CategorySchemes>
    <str:Categorisations>
      <str:Categorisation id="CAT_EXR">
        <str:Source><Ref id="EXR" agencyID="ECB"/></str:Source>
        <str:Target><Ref id="07" agencyID="ECB"/></str:Target>
      </str:Categorisation>
    </str:Categorisations>
  </mes:Structures>
</mes:Structure>`

func TestParseStructure(t *testing.T) {
	s, err := ParseStructure(strings.NewReader(structureFixture))
	require.NoError(t, err)

	t.Run("codelists", func(t *testing.T) {
		require.Contains(t, s.Codelists, "CL_FREQ")
		assert.Equal(t, "Annual", s.Codelists["CL_FREQ"]["A"])
		assert.Equal(t, "Quarterly", s.Codelists["CL_FREQ"]["Q"])
		assert.Equal(t, "Euro", s.Codelists["CL_CURRENCY"]["EUR"])
	})

	t.Run("concepts", func(t *testing.T) {
		assert.Equal(t, "Frequency", s.Concepts["FREQ"])
		assert.Equal(t, "Title", s.Concepts["TITLE"])
	})

	t.Run("data structure dimensions ordered by position", func(t *testing.T) {
		dsd, ok := s.DataStructures["ECB_EXR1"]
		require.True(t, ok)
		assert.Equal(t, "Exchange Rates", dsd.Name)
		assert.Equal(t, []string{"FREQ", "CURRENCY"}, dsd.DimensionKeys())
		assert.Equal(t, []string{"TITLE"}, dsd.AttributeKeys())
		assert.Equal(t, "CL_CURRENCY", dsd.Dimensions[1].CodelistRef)
	})

	t.Run("dataflows", func(t *testing.T) {
		flow, ok := s.Dataflows["EXR"]
		require.True(t, ok)
		assert.Equal(t, "Exchange rates", flow.Name)
		assert.Equal(t, "ECB_EXR1", flow.DSDRef)
	})

	t.Run("categories", func(t *testing.T) {
		require.Len(t, s.Categories, 2)
		assert.Equal(t, "Monetary operations", s.Categories[0].Name)
		require.Len(t, s.Categories[0].Children, 1)
		assert.Equal(t, "0101", s.Categories[0].Children[0].ID)
	})

	t.Run("categorisations", func(t *testing.T) {
		assert.Equal(t, []string{"EXR"}, s.Categorisations["07"])
	})
}

func TestPickName(t *testing.T) {
	assert.Equal(t, "en name", pickName([]nameXML{{Lang: "fr", Value: "fr name"}, {Lang: "en", Value: "en name"}}))
	assert.Equal(t, "fr name", pickName([]nameXML{{Lang: "de", Value: "de name"}, {Lang: "fr", Value: "fr name"}}))
	assert.Equal(t, "de name", pickName([]nameXML{{Lang: "de", Value: "de name"}}))
	assert.Equal(t, "", pickName(nil))
}
