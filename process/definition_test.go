package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessDefinitionRequiresExactlyOneStartNode(t *testing.T) {
	nodes := []*ProcessNode{
		{ID: "s1", Type: NodeStart},
		{ID: "s2", Type: NodeStart},
		{ID: "e", Type: NodeEnd},
	}
	_, err := NewProcessDefinition("p1", "two starts", "1", nodes, nil, nil, nil, Settings{})
	require.Error(t, err)

	_, err = NewProcessDefinition("p2", "no start", "1", []*ProcessNode{{ID: "e", Type: NodeEnd}}, nil, nil, nil, Settings{})
	require.Error(t, err)
	pErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeNoStartNode, pErr.Code)
}

func TestNewProcessDefinitionRejectsDuplicateNodeIDs(t *testing.T) {
	nodes := []*ProcessNode{
		{ID: "n1", Type: NodeStart},
		{ID: "n1", Type: NodeEnd},
	}
	_, err := NewProcessDefinition("p1", "dup", "1", nodes, nil, nil, nil, Settings{})
	assert.Error(t, err)
}

func TestNewProcessDefinitionRejectsUnknownNodeType(t *testing.T) {
	nodes := []*ProcessNode{
		{ID: "n1", Type: NodeStart},
		{ID: "n2", Type: "NOT_A_REAL_TYPE"},
	}
	_, err := NewProcessDefinition("p1", "bad type", "1", nodes, nil, nil, nil, Settings{})
	assert.Error(t, err)
}

func TestNewProcessDefinitionRejectsEdgesToUnknownNodes(t *testing.T) {
	nodes := []*ProcessNode{
		{ID: "n1", Type: NodeStart},
		{ID: "n2", Type: NodeEnd},
	}
	edges := []*ProcessEdge{
		{ID: "e1", FromNodeID: "n1", ToNodeID: "ghost"},
	}
	_, err := NewProcessDefinition("p1", "bad edge", "1", nodes, edges, nil, nil, Settings{})
	assert.Error(t, err)
}

func TestNewProcessDefinitionAppliesDefaultSettingsWhenZero(t *testing.T) {
	nodes := []*ProcessNode{{ID: "n1", Type: NodeStart}}
	d, err := NewProcessDefinition("p1", "defaults", "1", nodes, nil, nil, nil, Settings{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), d.Settings)
}

func TestProcessDefinitionLookups(t *testing.T) {
	nodes := []*ProcessNode{
		{ID: "n1", Type: NodeStart},
		{ID: "n2", Type: NodeEnd},
	}
	edges := []*ProcessEdge{
		{ID: "e1", FromNodeID: "n1", ToNodeID: "n2"},
	}
	d, err := NewProcessDefinition("p1", "lookups", "1", nodes, edges, nil, nil, Settings{})
	require.NoError(t, err)

	assert.Equal(t, "n1", d.GetStartNode().ID)

	n, ok := d.GetNode("n2")
	require.True(t, ok)
	assert.Equal(t, NodeEnd, n.Type)

	_, ok = d.GetNode("ghost")
	assert.False(t, ok)

	out := d.GetOutgoingEdges("n1")
	require.Len(t, out, 1)
	assert.Equal(t, "n2", out[0].ToNodeID)

	assert.Empty(t, d.GetOutgoingEdges("n2"))
}
